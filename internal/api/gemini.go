package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"summoner-story/internal/apperror"
	"summoner-story/internal/config"
	"summoner-story/internal/constants"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// GeminiClient calls the generateContent endpoint of the Gemini API. Failures are reported as
// NarrativeGenerationFailed; the caller decides what to do with them.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *fasthttp.Client
	logger  zerolog.Logger
}

type GenerationOptions struct {
	MaxOutputTokens int
	Temperature     float64
}

type generateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func NewGeminiClient(cfg *config.Config, logger zerolog.Logger) *GeminiClient {
	return &GeminiClient{
		apiKey:  cfg.GeminiAPIKey,
		model:   cfg.GeminiModel,
		baseURL: strings.TrimSuffix(cfg.GeminiURL, "/"),
		client: &fasthttp.Client{
			MaxConnsPerHost:     50,
			ReadTimeout:         constants.NarrativeAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger.With().Str("component", "gemini_client").Logger(),
	}
}

// Generate sends prompt and returns the first candidate's text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	if c.apiKey == "" {
		return "", apperror.New(apperror.KindNarrativeGenerationFailed, "narrative service is not configured")
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = 1024
	}

	body, err := json.Marshal(generateRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens: opts.MaxOutputTokens,
			Temperature:     opts.Temperature,
			TopP:            0.95,
			TopK:            40,
		},
		SafetySettings: []safetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
		},
	})
	if err != nil {
		return "", apperror.Wrap(apperror.KindInternal, err, "failed to encode narrative request")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey)))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	start := time.Now()
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, constants.NarrativeAPITimeout)
	}
	if err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || ctx.Err() != nil {
			return "", apperror.Wrap(apperror.KindNarrativeGenerationFailed, err, "narrative service timed out")
		}
		return "", apperror.Wrap(apperror.KindNarrativeGenerationFailed, err, "narrative service unreachable")
	}

	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		c.logger.Error().
			Int("status", status).
			Str("body", truncate(string(resp.Body()), 512)).
			Msg("narrative service returned an error")
		return "", apperror.Newf(apperror.KindNarrativeGenerationFailed, "narrative service returned status %d", status)
	}

	var result generateResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", apperror.Wrap(apperror.KindNarrativeGenerationFailed, err, "malformed narrative response")
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", apperror.New(apperror.KindNarrativeGenerationFailed, "narrative service returned no content")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", apperror.New(apperror.KindNarrativeGenerationFailed, "narrative service returned empty text")
	}

	c.logger.Info().
		Str("model", c.model).
		Int("chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("narrative generated")
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
