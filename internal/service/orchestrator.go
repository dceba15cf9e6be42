package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"summoner-story/internal/api"
	"summoner-story/internal/apperror"
	"summoner-story/internal/auth"
	"summoner-story/internal/config"
	"summoner-story/internal/constants"
	"summoner-story/internal/domain"
	"summoner-story/internal/insight"
	"summoner-story/internal/repository"
	"summoner-story/internal/stats"

	"github.com/rs/zerolog"
)

// casAttempts bounds how often a write is retried after losing a compare-and-set.
const casAttempts = 3

type Ingestor interface {
	FetchProfile(ctx context.Context, handle, region string) (domain.PlayerProfile, error)
	FetchMatchHistory(ctx context.Context, profile domain.PlayerProfile, opts HistoryOptions) (domain.MatchHistory, error)
}

type NarrativeSource interface {
	Narrate(ctx context.Context, profile domain.PlayerProfile, payload domain.StatisticsPayload, template string) (domain.Narrative, error)
	HasTemplate(name string) bool
}

type RecapRequest struct {
	Handle   string
	Region   string
	Template string
	// Months overrides the configured history window.
	Months int
	// Queue restricts ingestion to one queue id; zero means every queue.
	Queue int
}

// Recap is a job together with its outputs. Stats and Narrative are set once produced.
type Recap struct {
	Status    domain.JobStatus
	Handle    string
	Region    string
	Stats     *domain.StatisticsPayload
	Narrative *domain.Narrative
}

type Policy struct {
	MinGames      int
	MaxMatches    int
	HistoryMonths int
	Retention     time.Duration
	// Timeout bounds one pipeline run; zero derives it from MaxMatches.
	Timeout time.Duration
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MinGames:      cfg.MinGames,
		MaxMatches:    cfg.MaxMatches,
		HistoryMonths: cfg.HistoryMonths,
		Retention:     cfg.JobRetention,
		Timeout:       PipelineBudget(cfg.MaxMatches),
	}
}

// PipelineBudget is the deadline that lets a worst-case history of maxMatches records through the
// upstream pacing and still leaves the narrative call its own timeout.
func PipelineBudget(maxMatches int) time.Duration {
	pages := maxMatches/constants.MatchPageSize + 1
	calls := 2 + pages + maxMatches
	return max(constants.PipelineTimeout,
		api.PacingDelay(calls)+constants.NarrativeAPITimeout+constants.PipelineHeadroom)
}

// Orchestrator owns the job state machine. It is the only writer of job records.
type Orchestrator struct {
	jobs      *repository.JobRepository
	snapshots *repository.SnapshotRepository
	ingestion Ingestor
	engine    *stats.Engine
	narrator  NarrativeSource
	policy    Policy
	logger    zerolog.Logger
	now       func() time.Time

	baseCtx   context.Context
	cancel    context.CancelFunc
	pipelines sync.WaitGroup
	loops     sync.WaitGroup
}

func NewOrchestrator(policy Policy, jobs *repository.JobRepository, snapshots *repository.SnapshotRepository, ingestion Ingestor, narrator NarrativeSource, logger zerolog.Logger) *Orchestrator {
	if policy.MinGames < 1 {
		policy.MinGames = constants.DefaultMinGames
	}
	if policy.HistoryMonths < 1 {
		policy.HistoryMonths = constants.DefaultHistoryMonths
	}
	if policy.Retention <= 0 {
		policy.Retention = constants.DefaultJobRetention
	}
	if policy.MaxMatches < 1 {
		policy.MaxMatches = constants.DefaultMaxMatches
	}
	if policy.Timeout <= 0 {
		policy.Timeout = PipelineBudget(policy.MaxMatches)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		jobs:      jobs,
		snapshots: snapshots,
		ingestion: ingestion,
		engine: stats.NewEngine(stats.Options{
			MinGamesPerMonth: constants.MinGamesPerMonth,
			HighlightCount:   constants.HighlightCount,
		}),
		narrator: narrator,
		policy:   policy,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Submit validates the request, stores a pending job and starts its pipeline in the background. It
// returns as soon as the job is persisted.
func (o *Orchestrator) Submit(ctx context.Context, session *auth.Session, req RecapRequest) (string, error) {
	if !session.Valid(o.now()) {
		return "", apperror.New(apperror.KindUnauthenticated, "session is missing or expired")
	}
	req.Handle = strings.TrimSpace(req.Handle)
	if req.Handle == "" {
		return "", apperror.New(apperror.KindInvalidRequest, "player handle is required")
	}
	if req.Months < 0 {
		return "", apperror.Newf(apperror.KindInvalidRequest, "months must not be negative, got %d", req.Months)
	}
	if !o.narrator.HasTemplate(req.Template) {
		return "", apperror.Newf(apperror.KindInvalidRequest, "unknown template %q", req.Template)
	}

	job := &domain.Job{
		SessionID:    session.ID,
		PlayerHandle: req.Handle,
		Region:       strings.ToLower(strings.TrimSpace(req.Region)),
	}
	if err := o.jobs.Create(ctx, job, o.policy.Retention); err != nil {
		return "", apperror.Wrap(apperror.KindInternal, err, "failed to create job")
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", session.ID).
		Str("handle", job.PlayerHandle).
		Str("region", job.Region).
		Msg("recap job submitted")

	o.pipelines.Add(1)
	go o.run(job.ID, req)

	return job.ID, nil
}

func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	job, err := o.getJob(ctx, jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	return job.Status(), nil
}

// GetRecap returns the job with whatever outputs it has produced so far.
func (o *Orchestrator) GetRecap(ctx context.Context, jobID string) (*Recap, error) {
	job, err := o.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &Recap{
		Status:    job.Status(),
		Handle:    job.PlayerHandle,
		Region:    job.Region,
		Stats:     job.Stats,
		Narrative: job.Narrative,
	}, nil
}

func (o *Orchestrator) getJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if errors.Is(err, repository.ErrJobNotFound) {
		return nil, apperror.Newf(apperror.KindNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "failed to load job")
	}
	return job, nil
}

// Advance moves a job to state with the given progress. It enforces the transition table and
// monotone progress; the store applies it with a compare-and-set so a concurrent writer is detected.
func (o *Orchestrator) Advance(ctx context.Context, jobID string, state domain.JobState, progress int) error {
	return o.apply(ctx, jobID, repository.JobUpdate{State: state, Progress: progress})
}

// apply validates update against the stored job and writes it. A negative progress keeps the
// stored value.
func (o *Orchestrator) apply(ctx context.Context, jobID string, update repository.JobUpdate) error {
	for range casAttempts {
		job, err := o.getJob(ctx, jobID)
		if err != nil {
			return err
		}

		next := update
		if next.Progress < 0 {
			next.Progress = job.Progress
		}
		if !job.State.CanTransition(next.State) {
			return apperror.Newf(apperror.KindInvalidTransition, "job %s cannot move from %s to %s", jobID, job.State, next.State)
		}
		if next.Progress < job.Progress || next.Progress > 100 {
			return apperror.Newf(apperror.KindInvalidTransition, "job %s progress cannot go from %d to %d", jobID, job.Progress, next.Progress)
		}
		if next.State == domain.JobCompleted && next.Progress != 100 {
			return apperror.Newf(apperror.KindInvalidTransition, "job %s completed at %d%%", jobID, next.Progress)
		}

		_, err = o.jobs.CompareAndSet(ctx, jobID, job.State, job.Progress, next)
		if errors.Is(err, repository.ErrJobConflict) {
			o.logger.Warn().Str("job_id", jobID).Msg("job changed underneath, retrying")
			continue
		}
		if err != nil {
			return apperror.Wrap(apperror.KindInternal, err, "failed to update job")
		}
		return nil
	}
	return apperror.Newf(apperror.KindInvalidTransition, "job %s kept changing concurrently", jobID)
}

func (o *Orchestrator) run(jobID string, req RecapRequest) {
	defer o.pipelines.Done()
	logger := o.logger.With().Str("job_id", jobID).Logger()

	ctx, cancel := context.WithTimeout(o.baseCtx, o.policy.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("recap pipeline panicked")
			o.fail(ctx, jobID, apperror.Newf(apperror.KindInternal, "pipeline panicked: %v", r), logger)
		}
	}()

	start := time.Now()
	if err := o.pipeline(ctx, jobID, req, logger); err != nil {
		o.fail(ctx, jobID, err, logger)
		return
	}
	logger.Info().Dur("duration", time.Since(start)).Msg("recap job completed")
}

func (o *Orchestrator) pipeline(ctx context.Context, jobID string, req RecapRequest, logger zerolog.Logger) error {
	if err := o.Advance(ctx, jobID, domain.JobFetching, constants.ProgressFetchStarted); err != nil {
		return err
	}

	profile, err := o.ingestion.FetchProfile(ctx, req.Handle, req.Region)
	if err != nil {
		return err
	}
	if err := o.Advance(ctx, jobID, domain.JobFetching, constants.ProgressProfileFetched); err != nil {
		return err
	}

	months := o.policy.HistoryMonths
	if req.Months > 0 {
		months = req.Months
	}
	end := o.now().UTC()
	window := domain.Window{Start: end.AddDate(0, -months, 0), End: end}

	// ingestion stops early enough for the narrative call to get its full timeout
	fetchCtx, cancelFetch := context.WithTimeout(ctx, o.fetchBudget(ctx))
	defer cancelFetch()

	lastProgress := constants.ProgressProfileFetched
	history, err := o.ingestion.FetchMatchHistory(fetchCtx, profile, HistoryOptions{
		Window:     window,
		MaxMatches: o.policy.MaxMatches,
		Queue:      req.Queue,
		Progress: func(covered float64) {
			span := constants.ProgressMatchesFetched - constants.ProgressProfileFetched
			p := constants.ProgressProfileFetched + int(covered*float64(span))
			if p <= lastProgress || p >= constants.ProgressMatchesFetched {
				return
			}
			if err := o.Advance(ctx, jobID, domain.JobFetching, p); err != nil {
				logger.Warn().Err(err).Int("progress", p).Msg("failed to report ingestion progress")
				return
			}
			lastProgress = p
		},
	})
	if err != nil {
		return err
	}
	if err := o.Advance(ctx, jobID, domain.JobFetching, constants.ProgressMatchesFetched); err != nil {
		return err
	}

	if err := o.checkSufficient(history); err != nil {
		return err
	}
	if history.Partial {
		logger.Warn().
			AnErr("cause", history.PartialCause).
			Int("records", len(history.Records)).
			Msg("continuing with partial match history")
	}

	if err := o.Advance(ctx, jobID, domain.JobProcessing, constants.ProgressProcessing); err != nil {
		return err
	}
	payload := o.engine.Aggregate(history.Records)
	if err := o.apply(ctx, jobID, repository.JobUpdate{
		State:    domain.JobProcessing,
		Progress: constants.ProgressStatsStored,
		Stats:    &payload,
	}); err != nil {
		return err
	}
	o.saveSnapshot(ctx, jobID, history, window, payload, logger)

	if err := o.Advance(ctx, jobID, domain.JobGenerating, constants.ProgressGenerating); err != nil {
		return err
	}
	narrative, err := o.narrator.Narrate(ctx, profile, payload, req.Template)
	if err != nil {
		return err
	}

	return o.apply(ctx, jobID, repository.JobUpdate{
		State:     domain.JobCompleted,
		Progress:  constants.ProgressCompleted,
		Narrative: &narrative,
	})
}

func (o *Orchestrator) fetchBudget(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return o.policy.Timeout
	}
	remaining := time.Until(deadline)
	reserve := min(constants.NarrativeAPITimeout, remaining/4)
	return remaining - reserve
}

// checkSufficient applies the minimum-games policy. A complete history needs MinGames records; a
// partial one is only usable when some calendar month alone reaches MinGames.
func (o *Orchestrator) checkSufficient(history domain.MatchHistory) error {
	if !history.Partial {
		if len(history.Records) < o.policy.MinGames {
			return apperror.Newf(apperror.KindInsufficientData,
				"found %d games, at least %d are needed", len(history.Records), o.policy.MinGames)
		}
		return nil
	}

	perMonth := make(map[string]int)
	for _, r := range history.Records {
		key := r.Timestamp.UTC().Format("2006-01")
		perMonth[key]++
		if perMonth[key] >= o.policy.MinGames {
			return nil
		}
	}
	return apperror.Wrap(apperror.KindInsufficientData, history.PartialCause,
		fmt.Sprintf("match history incomplete and no month reached %d games", o.policy.MinGames))
}

func (o *Orchestrator) saveSnapshot(ctx context.Context, jobID string, history domain.MatchHistory, window domain.Window, payload domain.StatisticsPayload, logger zerolog.Logger) {
	if o.snapshots == nil {
		return
	}
	fingerprint, err := insight.Fingerprint(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fingerprint payload for snapshot")
		return
	}

	recent, err := o.snapshots.FindRecent(ctx, history.Profile.Puuid, fingerprint, o.now().Add(-constants.SnapshotTTL))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to look up recent snapshots")
	}
	if recent != nil {
		logger.Debug().
			Str("snapshot_id", recent.ID).
			Str("fingerprint", fingerprint).
			Msg("identical snapshot stored recently, not storing again")
		return
	}

	err = o.snapshots.Save(ctx, &repository.Snapshot{
		Puuid:       history.Profile.Puuid,
		JobID:       jobID,
		Window:      window,
		TotalGames:  payload.TotalGames,
		Partial:     history.Partial,
		Fingerprint: fingerprint,
		Payload:     payload,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to save statistics snapshot")
	}
}

// fail records err on the job. It runs even when the pipeline context is done.
func (o *Orchestrator) fail(ctx context.Context, jobID string, err error, logger zerolog.Logger) {
	kind := apperror.KindOf(err)
	if errors.Is(err, context.Canceled) && o.baseCtx.Err() != nil {
		kind = apperror.KindServiceUnavailable
		err = apperror.Wrap(kind, err, "server shutting down")
	}
	if kind == apperror.KindInvalidTransition {
		logger.Error().Err(err).Msg("orchestrator defect: invalid job transition")
		kind = apperror.KindInternal
	} else {
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("recap job failed")
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DatabaseTimeout)
	defer cancel()

	jobErr := &domain.JobError{
		Kind:    string(kind),
		Code:    apperror.Code(kind),
		Message: apperror.MessageOf(err),
	}
	if kind == apperror.KindInternal {
		jobErr.Message = apperror.UserMessage(kind)
	}
	if err := o.apply(writeCtx, jobID, repository.JobUpdate{State: domain.JobFailed, Progress: -1, Error: jobErr}); err != nil {
		logger.Error().Err(err).Msg("failed to record job failure")
	}
}

// Start runs the expired-job purge loop until Shutdown.
func (o *Orchestrator) Start() {
	o.loops.Add(1)
	go func() {
		defer o.loops.Done()
		ticker := time.NewTicker(constants.JobPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.baseCtx.Done():
				return
			case <-ticker.C:
				o.PurgeExpired(o.baseCtx)
			}
		}
	}()
}

func (o *Orchestrator) PurgeExpired(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	n, err := o.jobs.DeleteExpired(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to purge expired jobs")
		return 0
	}
	if n > 0 {
		o.logger.Info().Int64("deleted", n).Msg("purged expired jobs")
	}
	return n
}

// Wait blocks until every running pipeline has reached a terminal state.
func (o *Orchestrator) Wait() {
	o.pipelines.Wait()
}

// Shutdown cancels running pipelines and waits for them to record their outcome, or for ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.pipelines.Wait()
		o.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
