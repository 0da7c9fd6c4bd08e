package health

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// #region types
// Prober reports whether the render backend is reachable.
type Prober interface {
	IsHealthy(ctx context.Context) bool
}

// Config selects the probe transport.
type Config struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// GRPCAddr switches to the gRPC health protocol when non-empty.
	GRPCAddr string `yaml:"grpc_addr"`
	Service  string `yaml:"service"`
}

// DefaultConfig returns a 5s HTTP probe.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second}
}
// #endregion types

// #region http-probe
// HTTPProbe checks the backend by listing its models.
type HTTPProbe struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// NewHTTPProbe creates a probe against baseURL/sdapi/v1/sd-models.
func NewHTTPProbe(baseURL string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

// IsHealthy returns true on a 200 from the model listing endpoint.
func (p *HTTPProbe) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/sdapi/v1/sd-models", nil)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(req)
	if err != nil {
		log.Printf("[HEALTH] probe %s: %v", p.baseURL, err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
// #endregion http-probe

// #region grpc-probe
// GRPCProbe checks a backend sidecar through grpc.health.v1.
type GRPCProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	timeout time.Duration
}

// NewGRPCProbe dials addr without TLS. The dial is lazy.
func NewGRPCProbe(addr, service string, timeout time.Duration) (*GRPCProbe, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &GRPCProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		timeout: timeout,
	}, nil
}

// NewGRPCProbeWithClient creates a probe with an injected health client.
// Used for testing without a real gRPC connection.
func NewGRPCProbeWithClient(client healthpb.HealthClient, service string, timeout time.Duration) *GRPCProbe {
	return &GRPCProbe{client: client, service: service, timeout: timeout}
}

// Close shuts down the gRPC connection.
func (p *GRPCProbe) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// IsHealthy returns true only for SERVING.
func (p *GRPCProbe) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		log.Printf("[HEALTH] grpc check %q: %v", p.service, err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}
// #endregion grpc-probe

// #region factory
// New builds the probe named by cfg. forgeURL is used for the HTTP probe.
func New(cfg Config, forgeURL string) (Prober, func() error, error) {
	if cfg.GRPCAddr == "" {
		return NewHTTPProbe(forgeURL, cfg.Timeout), func() error { return nil }, nil
	}
	p, err := NewGRPCProbe(cfg.GRPCAddr, cfg.Service, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
// #endregion factory
