// Package llm holds the OpenAI-compatible client plumbing shared by the
// judge and the creative director.
package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrNoJSON is returned when a completion carries no parseable object.
var ErrNoJSON = errors.New("no json object in completion")

// Config describes one OpenAI-compatible endpoint.
type Config struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model" validate:"required"`
	Retries int           `yaml:"retries" validate:"gte=1"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	Backoff time.Duration `yaml:"backoff" validate:"gte=0"`
}

// NewClient builds a go-openai client pointed at cfg.BaseURL.
func NewClient(cfg Config) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(oc)
}

var objectRe = regexp.MustCompile(`(?s)\{.*\}`)

// ExtractJSON decodes text into v, falling back to the outermost {...} span
// when the model wraps the object in prose or fences.
func ExtractJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	m := objectRe.FindString(text)
	if m == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(m), v); err != nil {
		return errors.Join(ErrNoJSON, err)
	}
	return nil
}

// StripFences removes markdown code fences around a completion.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop a language tag such as ```text
		if !strings.Contains(text[:nl], " ") {
			text = text[nl+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
