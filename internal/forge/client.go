package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danielpatrickdp/diffuservo/internal/control"
)

var (
	// ErrEmptyImage is returned when the backend answers without an image.
	ErrEmptyImage = errors.New("empty image payload")
	// ErrUndersized is returned when the decoded image is implausibly small.
	ErrUndersized = errors.New("undersized image payload")
)

// #region wire-types

type txt2imgRequest struct {
	Prompt            string            `json:"prompt"`
	NegativePrompt    string            `json:"negative_prompt"`
	Steps             int               `json:"steps"`
	CfgScale          float64           `json:"cfg_scale"`
	SamplerName       string            `json:"sampler_name"`
	Width             int               `json:"width"`
	Height            int               `json:"height"`
	Seed              int64             `json:"seed"`
	EnableHR          bool              `json:"enable_hr"`
	HRScale           float64           `json:"hr_scale,omitempty"`
	HRUpscaler        string            `json:"hr_upscaler,omitempty"`
	HRSecondPassSteps int               `json:"hr_second_pass_steps,omitempty"`
	DenoisingStrength float64           `json:"denoising_strength,omitempty"`
	OverrideSettings  map[string]string `json:"override_settings,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

func newRequest(p control.Params) txt2imgRequest {
	req := txt2imgRequest{
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Steps:          p.Steps,
		CfgScale:       p.Cfg,
		SamplerName:    p.Sampler,
		Width:          p.Width,
		Height:         p.Height,
		Seed:           p.Seed,
		EnableHR:       p.HREnabled,
	}
	if p.HREnabled {
		req.HRScale = p.HRScale
		req.HRUpscaler = p.HRUpscaler
		req.HRSecondPassSteps = p.HRSteps
		req.DenoisingStrength = p.Denoise
	}
	if p.Checkpoint != "" {
		req.OverrideSettings = map[string]string{"sd_model_checkpoint": p.Checkpoint}
	}
	return req
}

// #endregion wire-types

// #region client

// Client talks to a Forge/A1111-compatible txt2img API.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a render client. The per-request timeout comes from
// the caller's context; config.Timeout bounds the transport as a backstop.
func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// NewClientWithHTTP is used by tests to inject an httptest client.
func NewClientWithHTTP(config Config, hc *http.Client) *Client {
	return &Client{config: config, http: hc}
}

// Generate posts one txt2img request and returns the decoded image.
func (c *Client) Generate(ctx context.Context, p control.Params) ([]byte, error) {
	body, err := json.Marshal(newRequest(p))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := strings.TrimRight(c.config.URL, "/") + "/sdapi/v1/txt2img"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("txt2img: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("txt2img: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0] == "" {
		return nil, ErrEmptyImage
	}

	// some builds prefix a data URL header
	raw := out.Images[0]
	if i := strings.Index(raw, ","); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if len(img) < c.config.MinImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrUndersized, len(img))
	}
	return img, nil
}

// #endregion client

// #region render

// Render generates an image for p, writes it to OutputDir/runID and returns
// its path. Only the newest KeepImages files per run are retained.
func (c *Client) Render(ctx context.Context, runID string, iteration int, p control.Params) (string, error) {
	img, err := c.Generate(ctx, p)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(c.config.OutputDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir output: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_iter%03d.png", runID, iteration))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	log.Printf("[FORGE] saved %s (%d bytes, tier=%s seed=%d)", path, len(img), p.Tier, p.Seed)

	if err := prune(dir, c.config.KeepImages); err != nil {
		log.Printf("[FORGE] prune %s: %v", dir, err)
	}
	return path, nil
}

// prune keeps the newest keep PNGs in dir. File names sort by iteration.
func prune(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// #endregion render
