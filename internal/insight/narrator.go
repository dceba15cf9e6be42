package insight

import (
	"context"
	"time"

	"summoner-story/internal/api"
	"summoner-story/internal/apperror"
	"summoner-story/internal/domain"

	"github.com/rs/zerolog"
)

// Generator is the narrative-generation service.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts api.GenerationOptions) (string, error)
}

type Narrator struct {
	generator Generator
	cache     *Cache
	templates *Templates
	logger    zerolog.Logger
	now       func() time.Time
}

func NewNarrator(generator Generator, cache *Cache, templates *Templates, logger zerolog.Logger) *Narrator {
	return &Narrator{
		generator: generator,
		cache:     cache,
		templates: templates,
		logger:    logger.With().Str("component", "narrator").Logger(),
		now:       time.Now,
	}
}

// HasTemplate reports whether name (or the default, for "") can be rendered.
func (n *Narrator) HasTemplate(name string) bool {
	_, ok := n.templates.Lookup(name)
	return ok
}

// Narrate returns the narrative for payload, from the cache when an identical payload was narrated
// for the same player and template before. Generation failures are NarrativeGenerationFailed.
func (n *Narrator) Narrate(ctx context.Context, profile domain.PlayerProfile, payload domain.StatisticsPayload, templateName string) (domain.Narrative, error) {
	tmpl, ok := n.templates.Lookup(templateName)
	if !ok {
		return domain.Narrative{}, apperror.Newf(apperror.KindInternal, "unknown prompt template %q", templateName)
	}

	fingerprint, err := Fingerprint(payload)
	if err != nil {
		return domain.Narrative{}, apperror.Wrap(apperror.KindInternal, err, "failed to fingerprint payload")
	}
	key := Key(fingerprint, tmpl.Name, profile.Handle())

	if cached, ok := n.cache.Get(key); ok {
		n.logger.Debug().
			Str("fingerprint", fingerprint).
			Str("template", tmpl.Name).
			Msg("narrative cache hit")
		cached.Cached = true
		return cached, nil
	}

	data := NewPromptData(profile, payload)
	prompt, err := tmpl.Render(data)
	if err != nil {
		return domain.Narrative{}, apperror.Wrap(apperror.KindInternal, err, "failed to render prompt")
	}

	text, err := n.generator.Generate(ctx, prompt, api.GenerationOptions{
		MaxOutputTokens: tmpl.MaxOutputTokens,
		Temperature:     tmpl.Temperature,
	})
	if err != nil {
		if apperror.IsKind(err, apperror.KindNarrativeGenerationFailed) {
			return domain.Narrative{}, err
		}
		return domain.Narrative{}, apperror.Wrap(apperror.KindNarrativeGenerationFailed, err, "narrative generation failed")
	}

	narrative := domain.Narrative{
		Text:         text,
		Archetype:    data.Archetype,
		Achievements: data.Achievements,
		Template:     tmpl.Name,
		Fingerprint:  fingerprint,
		GeneratedAt:  n.now().UTC(),
	}
	n.cache.Put(key, narrative)

	n.logger.Info().
		Str("fingerprint", fingerprint).
		Str("template", tmpl.Name).
		Str("archetype", narrative.Archetype).
		Msg("narrative generated")
	return narrative, nil
}
