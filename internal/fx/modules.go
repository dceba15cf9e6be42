package fx

import (
	"summoner-story/internal/api"
	"summoner-story/internal/archive"
	"summoner-story/internal/auth"
	"summoner-story/internal/config"
	"summoner-story/internal/database"
	"summoner-story/internal/insight"
	"summoner-story/internal/logger"
	"summoner-story/internal/repository"
	"summoner-story/internal/server"
	"summoner-story/internal/service"

	"go.uber.org/fx"
)

// Core is everything up to the orchestrator. The CLI runs pipelines in-process with it.
var Core = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewJobRepository),
	fx.Provide(repository.NewSnapshotRepository),
	// upstream clients
	fx.Provide(fx.Annotate(api.NewRiotClient, fx.As(new(service.RiotAPI)), fx.As(new(server.Upstream)))),
	fx.Provide(fx.Annotate(api.NewGeminiClient, fx.As(new(insight.Generator)))),
	fx.Provide(archive.New),
	// insight
	fx.Provide(insight.NewCacheFromConfig),
	fx.Provide(insight.NewTemplatesFromConfig),
	fx.Provide(fx.Annotate(insight.NewNarrator, fx.As(new(service.NarrativeSource)))),
	// svc
	fx.Provide(fx.Annotate(service.NewIngestionService, fx.As(new(service.Ingestor)))),
	fx.Provide(service.PolicyFromConfig),
	fx.Provide(fx.Annotate(service.NewOrchestrator, fx.As(fx.Self()), fx.As(new(server.Recaps)))),
)

var Module = fx.Options(
	Core,
	// server
	fx.Provide(auth.NewVerifier),
	fx.Provide(server.NewRecapServer),
)
