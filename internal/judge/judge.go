package judge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/danielpatrickdp/diffuservo/internal/llm"
	"github.com/danielpatrickdp/diffuservo/internal/score"
)

// #region config

// Fixed weights for the two secondary dimensions. Quality takes whatever the
// concept weight and present secondary dimensions leave over.
const (
	AestheticsWeight     = 0.15
	ReasonablenessWeight = 0.15
)

// DefaultConfig returns the SiliconFlow-hosted Qwen VL judge.
// Reads the API key from SILICON_KEY.
func DefaultConfig() llm.Config {
	return llm.Config{
		BaseURL: "https://api.siliconflow.cn/v1",
		APIKey:  os.Getenv("SILICON_KEY"),
		Model:   "Pro/Qwen/Qwen2.5-VL-7B-Instruct",
		Retries: 3,
		Timeout: 30 * time.Second,
		Backoff: time.Second,
	}
}

// #endregion config

// #region judge

// Judge scores images with a vision-language model.
type Judge struct {
	config llm.Config
	client *openai.Client
}

// New creates a judge against config's endpoint.
func New(config llm.Config) *Judge {
	return &Judge{config: config, client: llm.NewClient(config)}
}

// verdict mirrors the JSON object the model is asked to return.
type verdict struct {
	Final          *float64 `json:"final_score"`
	Concept        *float64 `json:"concept_score"`
	Quality        *float64 `json:"quality_score"`
	Aesthetics     *float64 `json:"aesthetics_score"`
	Reasonableness *float64 `json:"reasonableness_score"`
	Reason         string   `json:"reason"`
}

// Score rates the image at artifactRef against concept. Irrecoverable
// failures come back as a sentinel sample with a nil error; only context
// cancellation is returned as an error.
func (j *Judge) Score(ctx context.Context, artifactRef, concept string, conceptWeight float64) (score.Sample, error) {
	img, err := os.ReadFile(artifactRef)
	if err != nil {
		log.Printf("[JUDGE] load %s: %v", artifactRef, err)
		return score.Failed(fmt.Sprintf("load image: %v", err)), nil
	}
	if j.config.APIKey == "" {
		return score.Failed("missing api key"), nil
	}

	req := openai.ChatCompletionRequest{
		Model: j.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(concept)},
			{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Rate this image."},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(img),
					Detail: openai.ImageURLDetailAuto,
				}},
			}},
		},
		Temperature: 0.2,
		MaxTokens:   300,
	}

	// constant wait between attempts
	v, err := llm.Retry(ctx, j.config, j.config.Backoff, "JUDGE", func(ctx context.Context) (verdict, error) {
		return j.ask(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return score.Sample{}, ctx.Err()
		}
		return score.Failed("judge retries exhausted"), nil
	}
	s := v.sample(conceptWeight)
	log.Printf("[JUDGE] final=%.3f concept=%s quality=%s reason=%q",
		s.Final, fmtDim(s.Concept), fmtDim(s.Quality), s.Reason)
	return s, nil
}

func (j *Judge) ask(ctx context.Context, req openai.ChatCompletionRequest) (verdict, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	resp, err := j.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return verdict{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return verdict{}, errors.New("chat completion: no choices")
	}
	var v verdict
	if err := llm.ExtractJSON(resp.Choices[0].Message.Content, &v); err != nil {
		return verdict{}, err
	}
	if v.Final == nil && (v.Concept == nil || v.Quality == nil) {
		return verdict{}, errors.New("verdict missing final_score")
	}
	return v, nil
}

// #endregion judge

// #region weighting

// sample turns a raw verdict into a score sample. When concept and quality are
// both present the final score is recomputed with conceptWeight.
func (v verdict) sample(conceptWeight float64) score.Sample {
	s := score.Sample{
		Concept:        v.Concept,
		Quality:        v.Quality,
		Aesthetics:     v.Aesthetics,
		Reasonableness: v.Reasonableness,
		Reason:         strings.TrimSpace(v.Reason),
	}
	if v.Concept == nil || v.Quality == nil {
		s.Final = *v.Final
		return s
	}
	s.Final = Weighted(*v.Concept, *v.Quality, v.Aesthetics, v.Reasonableness, conceptWeight)
	return s
}

// Weighted blends dimension scores. Absent secondary dimensions hand their
// weight to quality.
func Weighted(concept, quality float64, aesthetics, reasonableness *float64, conceptWeight float64) float64 {
	total := conceptWeight * concept
	qualityWeight := 1 - conceptWeight
	if aesthetics != nil {
		total += AestheticsWeight * *aesthetics
		qualityWeight -= AestheticsWeight
	}
	if reasonableness != nil {
		total += ReasonablenessWeight * *reasonableness
		qualityWeight -= ReasonablenessWeight
	}
	total += math.Max(qualityWeight, 0) * quality
	return math.Round(total*1000) / 1000
}

// #endregion weighting

// #region helpers

func dataURL(img []byte) string {
	mime := http.DetectContentType(img)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)
}

func fmtDim(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func systemPrompt(concept string) string {
	return fmt.Sprintf(`You are a calibrated image quality evaluator feeding a closed-loop controller.

Rate the image on four independent dimensions, each in [0, 1]:
1. concept_score: alignment with the target "%s".
   1.0 perfect match, 0.7 core elements present but details missing, 0.5 vaguely related, 0.3 wrong subject.
2. quality_score: technical quality (sharpness, lighting, artifacts).
   1.0 professional, 0.8 minor issues, 0.6 noticeable noise or distortion, 0.4 blurry or broken.
3. aesthetics_score: composition, color harmony and overall appeal.
4. reasonableness_score: anatomical and physical plausibility.

Rules:
- If quality_score < 0.6 the final score cannot exceed 0.7.
- If concept_score < 0.5 the final score cannot exceed 0.6.
- A final score above 0.9 requires every dimension above 0.85.
- Be harsh. This is for optimization, not praise.

Reply with JSON only, no markdown:
{"concept_score": <float>, "quality_score": <float>, "aesthetics_score": <float>, "reasonableness_score": <float>, "final_score": <float>, "reason": "<50 words max, cite specific flaws>"}`, concept)
}

// #endregion helpers
