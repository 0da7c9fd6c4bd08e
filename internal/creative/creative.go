package creative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/llm"
)

// #region config

// DefaultConfig returns the DeepSeek prompt writer.
// Reads the API key from DEEPSEEK_KEY, falling back to SILICON_KEY.
func DefaultConfig() llm.Config {
	key := os.Getenv("DEEPSEEK_KEY")
	if key == "" {
		key = os.Getenv("SILICON_KEY")
	}
	return llm.Config{
		BaseURL: "https://api.siliconflow.cn/v1",
		APIKey:  key,
		Model:   "deepseek-ai/DeepSeek-V3",
		Retries: 5,
		Timeout: 30 * time.Second,
		Backoff: time.Second,
	}
}

const maxBackoff = 10 * time.Second

// #endregion config

// #region lenses

// Lens is a creative constraint handed to the prompt writer.
type Lens struct {
	Name   string
	Hint   string
	Weight int
}

// Lenses are drawn by weight when a random angle is allowed.
var Lenses = []Lens{
	{"Lighting & Atmosphere", "volumetric light, rim light, fog, time of day, mood", 25},
	{"Material & Texture", "surface detail, fabric, metal, skin, weathering", 25},
	{"Color Palette", "a deliberate palette with strong contrast or harmony", 20},
	{"Dynamic Action/Flow", "motion, gesture, wind, particles, a frozen moment", 15},
	{"Emotion/Vibe", "the feeling the viewer should have", 10},
	{"Composition & Perspective", "camera angle, lens, framing, depth", 5},
}

// FixedLens is used once the run leaves exploration.
const FixedLens = "Emphasis on Lighting & Atmosphere & Technical Excellence: Focus on cinematic volumetric lighting, sharp focus, intricate details, and professional-grade composition"

// #endregion lenses

// #region director

// Recommendation is the director's tier pick for a theme.
type Recommendation struct {
	Tier       control.Tier
	Confidence float64
	Reason     string
}

// Director writes prompts and recommends a model tier through an LLM.
type Director struct {
	config llm.Config
	client *openai.Client

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a director. rng drives lens selection; pass a seeded source
// for reproducible runs.
func New(config llm.Config, rng *rand.Rand) *Director {
	return &Director{config: config, client: llm.NewClient(config), rng: rng}
}

// PickLens draws a lens by weight.
func (d *Director) PickLens() Lens {
	total := 0
	for _, l := range Lenses {
		total += l.Weight
	}
	d.mu.Lock()
	n := d.rng.IntN(total)
	d.mu.Unlock()
	for _, l := range Lenses {
		if n < l.Weight {
			return l
		}
		n -= l.Weight
	}
	return Lenses[len(Lenses)-1]
}

// WritePrompt expands theme into a diffusion prompt. A random lens is used
// only when allowRandomAngle is set. Failures fall back to the theme.
func (d *Director) WritePrompt(ctx context.Context, theme, feedback string, allowRandomAngle bool) (string, error) {
	focus := FixedLens
	if allowRandomAngle {
		l := d.PickLens()
		focus = fmt.Sprintf("Emphasis on %s: %s", l.Name, l.Hint)
	}
	log.Printf("[CREATIVE] lens: %s", focus)

	system := fmt.Sprintf(`Role: expert Stable Diffusion prompt engineer.
Task: expand the concept into a high-quality visual prompt.

Concept: "%s"
Creative constraint: %s

Rules:
1. Output the prompt text only. No preamble, no markdown, no quotes.
2. English keywords, comma-separated.
3. Cover visual elements, lighting, style and composition.
4. Keep it dense, roughly 50 to 80 words.`, theme, focus)

	user := "Generate now."
	if feedback != "" {
		user = "Feedback from the last render:\n" + feedback + "\n\nGenerate now."
	}

	req := openai.ChatCompletionRequest{
		Model: d.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 1.2,
		MaxTokens:   200,
	}

	text, err := d.complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Printf("[CREATIVE] prompt fallback: %v", err)
		return theme, nil
	}
	prompt := llm.StripFences(text)
	if prompt == "" {
		return theme, nil
	}
	return prompt, nil
}

type recommendation struct {
	Intent     string   `json:"intent"`
	Model      string   `json:"model"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// RecommendModelTier asks which tier suits theme. Failures fall back to FAST.
func (d *Director) RecommendModelTier(ctx context.Context, theme string) (Recommendation, error) {
	system := `You route image requests to a model family.
PREVIEW: fast photographic drafts.
RENDER: high-fidelity realistic output (people, products, landscapes, architecture).
ANIME: illustration, anime, manga, cartoon, game art.
Reply with JSON only: {"intent": "<short summary>", "model": "PREVIEW|RENDER|ANIME", "confidence": <0..1>, "reason": "<one sentence>"}`

	req := openai.ChatCompletionRequest{
		Model: d.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: theme},
		},
		Temperature: 0.1,
		MaxTokens:   150,
	}

	fallback := Recommendation{Tier: control.TierFast, Reason: "fallback"}
	text, err := d.complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Recommendation{}, ctx.Err()
		}
		log.Printf("[CREATIVE] recommend fallback: %v", err)
		return fallback, nil
	}

	var r recommendation
	if err := llm.ExtractJSON(text, &r); err != nil {
		log.Printf("[CREATIVE] recommend parse: %v", err)
		return fallback, nil
	}
	tier, ok := control.ParseTier(r.Model)
	if !ok {
		log.Printf("[CREATIVE] unknown model %q, using FAST", r.Model)
		return fallback, nil
	}
	rec := Recommendation{Tier: tier, Confidence: 1, Reason: r.Reason}
	if r.Confidence != nil {
		rec.Confidence = *r.Confidence
	}
	log.Printf("[CREATIVE] recommend %s (%.2f): %s", rec.Tier, rec.Confidence, rec.Reason)
	return rec, nil
}

// complete runs req with exponential backoff between attempts.
func (d *Director) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	text, err := llm.Retry(ctx, d.config, maxBackoff, "CREATIVE", func(ctx context.Context) (string, error) {
		return d.once(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("completion failed after %d attempts: %w", d.config.Retries, err)
	}
	return text, nil
}

func (d *Director) once(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	resp, err := d.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// #endregion director
