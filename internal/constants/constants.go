package constants

import "time"

const (
	PlayerRefreshTTL = 30 * time.Minute
	SnapshotTTL      = 6 * time.Hour
	JobPurgeInterval = 10 * time.Minute
)

const (
	ExternalAPITimeout  = 10 * time.Second
	NarrativeAPITimeout = 60 * time.Second
	DatabaseTimeout     = 5 * time.Second
	RequestTimeout      = 30 * time.Second
	PipelineTimeout     = 15 * time.Minute
	PipelineHeadroom    = 2 * time.Minute
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	ShutdownTimeout = 5 * time.Second
)

// Upstream match-v5 paging and fan-out.
const (
	MatchPageSize        = 100
	MatchDetailWorkers   = 4
	DefaultMaxMatches    = 1000
	DefaultHistoryMonths = 12
	RankedSoloQueueID    = 420
)

const (
	RetryAttempts  = 5
	RetryBaseDelay = 500 * time.Millisecond
	RetryMaxDelay  = 16 * time.Second
)

// Development keys allow 20 requests per second and 100 per two minutes.
const (
	UpstreamRatePerSecond  = 20
	UpstreamBurst          = 20
	UpstreamWindowRequests = 100
	UpstreamWindow         = 2 * time.Minute
)

const (
	BreakerWindow    = time.Minute
	BreakerMinCalls  = 10
	BreakerErrorRate = 0.5
	BreakerCooldown  = 30 * time.Second
)

const (
	DefaultMinGames         = 10
	MinGamesPerMonth        = 5
	HighlightCount          = 5
	DefaultInsightCacheTTL  = 24 * time.Hour
	DefaultInsightCacheSize = 1024
	DefaultJobRetention     = 7 * 24 * time.Hour
)

// Progress checkpoints reported to pollers.
const (
	ProgressFetchStarted   = 5
	ProgressProfileFetched = 15
	ProgressMatchesFetched = 55
	ProgressProcessing     = 60
	ProgressStatsStored    = 75
	ProgressGenerating     = 80
	ProgressCompleted      = 100
)
