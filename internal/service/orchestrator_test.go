package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"summoner-story/internal/api"
	"summoner-story/internal/apperror"
	"summoner-story/internal/auth"
	"summoner-story/internal/config"
	"summoner-story/internal/constants"
	"summoner-story/internal/domain"
	"summoner-story/internal/insight"
	"summoner-story/internal/repository"

	"github.com/rs/zerolog"
)

type fakeIngestor struct {
	profileErr error
	history    domain.MatchHistory
	historyErr error
	// delay slows FetchMatchHistory so pollers can observe intermediate states.
	delay time.Duration
}

func (f *fakeIngestor) FetchProfile(_ context.Context, handle, region string) (domain.PlayerProfile, error) {
	if f.profileErr != nil {
		return domain.PlayerProfile{}, f.profileErr
	}
	return domain.PlayerProfile{Puuid: "puuid-1", GameName: "Faker", TagLine: "KR1", Region: "kr"}, nil
}

func (f *fakeIngestor) FetchMatchHistory(ctx context.Context, profile domain.PlayerProfile, opts HistoryOptions) (domain.MatchHistory, error) {
	if f.historyErr != nil {
		return domain.MatchHistory{}, f.historyErr
	}
	for _, c := range []float64{0.25, 0.5, 0.75} {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		if opts.Progress != nil {
			opts.Progress(c)
		}
	}
	h := f.history
	h.Profile = profile
	return h, nil
}

// slowIngestor holds the match history fetch until its context ends and returns what it has.
type slowIngestor struct {
	fakeIngestor
}

func (s *slowIngestor) FetchMatchHistory(ctx context.Context, profile domain.PlayerProfile, _ HistoryOptions) (domain.MatchHistory, error) {
	<-ctx.Done()
	h := s.history
	h.Profile = profile
	h.Partial, h.PartialCause = true, ctx.Err()
	return h, nil
}

type fakeNarrator struct {
	calls atomic.Int32
	err   error
	panic bool
	// left is the time the narrative call had before its deadline
	left time.Duration
}

func (f *fakeNarrator) Narrate(ctx context.Context, _ domain.PlayerProfile, payload domain.StatisticsPayload, template string) (domain.Narrative, error) {
	f.calls.Add(1)
	if deadline, ok := ctx.Deadline(); ok {
		f.left = time.Until(deadline)
	}
	if f.panic {
		panic("template exploded")
	}
	if f.err != nil {
		return domain.Narrative{}, f.err
	}
	return domain.Narrative{Text: fmt.Sprintf("%d games", payload.TotalGames), Template: template}, nil
}

func (f *fakeNarrator) HasTemplate(name string) bool {
	return name == "" || name == "wrapped"
}

// recordsAcrossMonths returns n records spread round-robin over the given number of months.
func recordsAcrossMonths(n, months int) []domain.MatchRecord {
	base := time.Date(2025, 1, 10, 18, 0, 0, 0, time.UTC)
	out := make([]domain.MatchRecord, 0, n)
	for i := range n {
		out = append(out, domain.MatchRecord{
			MatchID:      fmt.Sprintf("KR_%03d", i),
			Timestamp:    base.AddDate(0, i%months, i/months),
			Duration:     25 * time.Minute,
			ChampionID:   103,
			ChampionName: "Ahri",
			Role:         "MIDDLE",
			Kills:        5,
			Deaths:       3,
			Assists:      7,
			Win:          i%2 == 0,
		})
	}
	return out
}

type orchestratorFixture struct {
	o         *Orchestrator
	jobs      *repository.JobRepository
	snapshots *repository.SnapshotRepository
	session   *auth.Session
}

func newFixture(t *testing.T, ingestion Ingestor, narrator NarrativeSource) *orchestratorFixture {
	t.Helper()
	db := openTestDB(t)
	jobs := repository.NewJobRepository(db, zerolog.Nop())
	snapshots := repository.NewSnapshotRepository(db, zerolog.Nop())
	o := NewOrchestrator(Policy{MinGames: 10}, jobs, snapshots, ingestion, narrator, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return &orchestratorFixture{
		o:         o,
		jobs:      jobs,
		snapshots: snapshots,
		session:   &auth.Session{ID: "session-1", Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
	}
}

func (f *orchestratorFixture) submitAndWait(t *testing.T, req RecapRequest) domain.JobStatus {
	t.Helper()
	ctx := context.Background()
	id, err := f.o.Submit(ctx, f.session, req)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	f.o.Wait()
	status, err := f.o.GetStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	return status
}

func TestPipelineCompletes(t *testing.T) {
	ingestion := &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(30, 3)}}
	narrator := &fakeNarrator{}
	f := newFixture(t, ingestion, narrator)

	status := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	if status.State != domain.JobCompleted || status.Progress != 100 {
		t.Fatalf("status = %+v, want completed at 100", status)
	}
	if status.Error != nil {
		t.Errorf("completed job carries an error: %+v", status.Error)
	}

	recap, err := f.o.GetRecap(context.Background(), status.JobID)
	if err != nil {
		t.Fatalf("GetRecap() error: %v", err)
	}
	if recap.Stats == nil || recap.Stats.TotalGames != 30 {
		t.Fatalf("stats = %+v", recap.Stats)
	}
	if recap.Narrative == nil || recap.Narrative.Text != "30 games" {
		t.Errorf("narrative = %+v", recap.Narrative)
	}

	snaps, err := f.snapshots.ListByPuuid(context.Background(), "puuid-1", 10)
	if err != nil {
		t.Fatalf("ListByPuuid() error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].JobID != status.JobID || snaps[0].Fingerprint == "" {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestPipelineFailures(t *testing.T) {
	tests := []struct {
		name      string
		ingestion *fakeIngestor
		narrator  *fakeNarrator
		wantKind  apperror.Kind
	}{
		{
			name:      "zero matches",
			ingestion: &fakeIngestor{},
			narrator:  &fakeNarrator{},
			wantKind:  apperror.KindInsufficientData,
		},
		{
			name:      "below min games",
			ingestion: &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(9, 1)}},
			narrator:  &fakeNarrator{},
			wantKind:  apperror.KindInsufficientData,
		},
		{
			name:      "player not found",
			ingestion: &fakeIngestor{profileErr: apperror.New(apperror.KindPlayerNotFound, "Nobody#KR1 does not exist")},
			narrator:  &fakeNarrator{},
			wantKind:  apperror.KindPlayerNotFound,
		},
		{
			name:      "rate limited",
			ingestion: &fakeIngestor{historyErr: fmt.Errorf("failed to list matches: %w", apperror.New(apperror.KindRateLimited, "riot api rate limit exceeded"))},
			narrator:  &fakeNarrator{},
			wantKind:  apperror.KindRateLimited,
		},
		{
			name:      "narrative failure",
			ingestion: &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(20, 2)}},
			narrator:  &fakeNarrator{err: apperror.New(apperror.KindNarrativeGenerationFailed, "narrative service timed out")},
			wantKind:  apperror.KindNarrativeGenerationFailed,
		},
		{
			name:      "unclassified error",
			ingestion: &fakeIngestor{profileErr: fmt.Errorf("disk on fire")},
			narrator:  &fakeNarrator{},
			wantKind:  apperror.KindInternal,
		},
		{
			name:      "panic",
			ingestion: &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(20, 2)}},
			narrator:  &fakeNarrator{panic: true},
			wantKind:  apperror.KindInternal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.ingestion, tt.narrator)
			status := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
			if status.State != domain.JobFailed {
				t.Fatalf("state = %s, want failed", status.State)
			}
			if status.Error == nil || status.Error.Kind != string(tt.wantKind) {
				t.Fatalf("error = %+v, want kind %s", status.Error, tt.wantKind)
			}
			if status.Error.Code != apperror.Code(tt.wantKind) || status.Error.Message == "" {
				t.Errorf("error = %+v, want code %s and a message", status.Error, apperror.Code(tt.wantKind))
			}
		})
	}
}

func TestPartialHistoryPolicy(t *testing.T) {
	cause := apperror.New(apperror.KindServiceUnavailable, "riot api unavailable")

	t.Run("one full month proceeds", func(t *testing.T) {
		records := append(recordsAcrossMonths(10, 1), recordsAcrossMonths(4, 4)[1:]...)
		ingestion := &fakeIngestor{history: domain.MatchHistory{Records: records, Partial: true, PartialCause: cause}}
		f := newFixture(t, ingestion, &fakeNarrator{})

		status := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
		if status.State != domain.JobCompleted {
			t.Errorf("state = %s (error %+v), want completed", status.State, status.Error)
		}
	})

	t.Run("no full month fails", func(t *testing.T) {
		ingestion := &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(27, 3), Partial: true, PartialCause: cause}}
		f := newFixture(t, ingestion, &fakeNarrator{})

		status := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
		if status.State != domain.JobFailed || status.Error == nil || status.Error.Kind != string(apperror.KindInsufficientData) {
			t.Errorf("status = %+v, want failed with INSUFFICIENT_DATA", status)
		}
	})
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, &fakeIngestor{}, &fakeNarrator{})
	ctx := context.Background()
	expired := &auth.Session{ID: "s", ExpiresAt: time.Now().Add(-time.Minute)}

	tests := []struct {
		name     string
		session  *auth.Session
		req      RecapRequest
		wantKind apperror.Kind
	}{
		{"nil session", nil, RecapRequest{Handle: "Faker#KR1", Region: "kr"}, apperror.KindUnauthenticated},
		{"expired session", expired, RecapRequest{Handle: "Faker#KR1", Region: "kr"}, apperror.KindUnauthenticated},
		{"empty handle", f.session, RecapRequest{Handle: "   ", Region: "kr"}, apperror.KindInvalidRequest},
		{"unknown template", f.session, RecapRequest{Handle: "Faker#KR1", Region: "kr", Template: "limerick"}, apperror.KindInvalidRequest},
		{"negative months", f.session, RecapRequest{Handle: "Faker#KR1", Region: "kr", Months: -1}, apperror.KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.o.Submit(ctx, tt.session, tt.req)
			if !apperror.IsKind(err, tt.wantKind) {
				t.Errorf("error kind = %s, want %s", apperror.KindOf(err), tt.wantKind)
			}
		})
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	f := newFixture(t, &fakeIngestor{}, &fakeNarrator{})
	_, err := f.o.GetStatus(context.Background(), "does-not-exist")
	if !apperror.IsKind(err, apperror.KindNotFound) {
		t.Errorf("error kind = %s, want NOT_FOUND", apperror.KindOf(err))
	}
}

func TestAdvanceEnforcesTransitions(t *testing.T) {
	f := newFixture(t, &fakeIngestor{}, &fakeNarrator{})
	ctx := context.Background()

	job := &domain.Job{SessionID: "s", PlayerHandle: "Faker#KR1", Region: "kr"}
	if err := f.jobs.Create(ctx, job, time.Hour); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	steps := []struct {
		state    domain.JobState
		progress int
		wantErr  bool
	}{
		{domain.JobProcessing, 60, true}, // skips fetching
		{domain.JobFetching, 5, false},
		{domain.JobFetching, 20, false}, // progress-only update
		{domain.JobFetching, 10, true},  // regression
		{domain.JobCompleted, 100, true},
		{domain.JobProcessing, 60, false},
		{domain.JobGenerating, 80, false},
		{domain.JobCompleted, 90, true},
		{domain.JobCompleted, 100, false},
		{domain.JobFailed, 100, true}, // terminal
		{domain.JobCompleted, 100, true},
	}
	for i, s := range steps {
		err := f.o.Advance(ctx, job.ID, s.state, s.progress)
		if s.wantErr {
			if !apperror.IsKind(err, apperror.KindInvalidTransition) {
				t.Errorf("step %d (%s, %d): error kind = %s, want INVALID_TRANSITION", i, s.state, s.progress, apperror.KindOf(err))
			}
			continue
		}
		if err != nil {
			t.Errorf("step %d (%s, %d): unexpected error %v", i, s.state, s.progress, err)
		}
	}

	status, _ := f.o.GetStatus(ctx, job.ID)
	if status.State != domain.JobCompleted || status.Progress != 100 {
		t.Errorf("final status = %+v", status)
	}
}

func TestPollersSeeMonotoneStates(t *testing.T) {
	ingestion := &fakeIngestor{
		history: domain.MatchHistory{Records: recordsAcrossMonths(30, 3)},
		delay:   20 * time.Millisecond,
	}
	f := newFixture(t, ingestion, &fakeNarrator{})
	ctx := context.Background()

	id, err := f.o.Submit(ctx, f.session, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	var observed []domain.JobStatus
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := f.o.GetStatus(ctx, id)
		if err != nil {
			t.Fatalf("GetStatus() error: %v", err)
		}
		observed = append(observed, status)
		if status.State.IsTerminal() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	terminals := 0
	for i, s := range observed {
		if s.State.IsTerminal() {
			terminals++
		}
		if i == 0 {
			continue
		}
		prev := observed[i-1]
		if s.State.Rank() < prev.State.Rank() || s.Progress < prev.Progress {
			t.Fatalf("status went backwards: %s/%d after %s/%d", s.State, s.Progress, prev.State, prev.Progress)
		}
	}
	if terminals != 1 {
		t.Errorf("observed %d terminal snapshots, want exactly 1", terminals)
	}
	if last := observed[len(observed)-1]; last.State != domain.JobCompleted {
		t.Errorf("last state = %s, want completed", last.State)
	}
}

type countingGenerator struct {
	calls atomic.Int32
}

func (g *countingGenerator) Generate(context.Context, string, api.GenerationOptions) (string, error) {
	g.calls.Add(1)
	return "Another season in the books.", nil
}

func TestIdenticalPayloadsShareNarrative(t *testing.T) {
	templates, err := insight.LoadTemplates("")
	if err != nil {
		t.Fatalf("LoadTemplates() error: %v", err)
	}
	gen := &countingGenerator{}
	narrator := insight.NewNarrator(gen, insight.NewCache(16, time.Hour), templates, zerolog.Nop())
	ingestion := &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(30, 3)}}
	f := newFixture(t, ingestion, narrator)

	// concurrent submissions may race past the cache
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.o.Submit(context.Background(), f.session, RecapRequest{Handle: "Faker#KR1", Region: "kr"}); err != nil {
				t.Errorf("Submit() error: %v", err)
			}
		}()
	}
	wg.Wait()
	f.o.Wait()
	if n := gen.calls.Load(); n < 1 || n > 2 {
		t.Errorf("generator calls = %d, want 1 or 2", n)
	}

	// a later identical submission is served from the cache
	before := gen.calls.Load()
	status := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	if status.State != domain.JobCompleted {
		t.Fatalf("state = %s, want completed", status.State)
	}
	if gen.calls.Load() != before {
		t.Error("identical payload called the generator again")
	}
	recap, _ := f.o.GetRecap(context.Background(), status.JobID)
	if recap.Narrative == nil || !recap.Narrative.Cached {
		t.Errorf("narrative = %+v, want cached", recap.Narrative)
	}
}

func TestPurgeExpired(t *testing.T) {
	db := openTestDB(t)
	jobs := repository.NewJobRepository(db, zerolog.Nop())
	o := NewOrchestrator(Policy{MinGames: 10, Retention: time.Millisecond}, jobs, nil,
		&fakeIngestor{}, &fakeNarrator{}, zerolog.Nop())
	defer o.Shutdown(context.Background())

	job := &domain.Job{SessionID: "s", PlayerHandle: "x#y", Region: "kr"}
	if err := jobs.Create(context.Background(), job, time.Millisecond); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if n := o.PurgeExpired(context.Background()); n != 1 {
		t.Errorf("PurgeExpired() = %d, want 1", n)
	}
	if _, err := o.GetStatus(context.Background(), job.ID); !apperror.IsKind(err, apperror.KindNotFound) {
		t.Errorf("expired job still visible: %v", err)
	}
}

func TestHistoryFetchLeavesNarrativeTime(t *testing.T) {
	ingestion := &slowIngestor{fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(12, 1)}}}
	narrator := &fakeNarrator{}
	o := NewOrchestrator(Policy{MinGames: 10, Timeout: 800 * time.Millisecond}, repository.NewJobRepository(openTestDB(t), zerolog.Nop()),
		nil, ingestion, narrator, zerolog.Nop())
	defer o.Shutdown(context.Background())

	session := &auth.Session{ID: "session-1", Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	id, err := o.Submit(context.Background(), session, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	o.Wait()

	status, err := o.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	if status.State != domain.JobCompleted {
		t.Fatalf("status = %+v, want completed", status)
	}
	if narrator.left < 100*time.Millisecond {
		t.Errorf("narrative call had %v left, want a reserved share of the deadline", narrator.left)
	}
}

func TestPipelineBudget(t *testing.T) {
	if got := PipelineBudget(50); got != constants.PipelineTimeout {
		t.Errorf("PipelineBudget(50) = %v, want the %v floor", got, constants.PipelineTimeout)
	}

	full := PipelineBudget(constants.DefaultMaxMatches)
	calls := constants.DefaultMaxMatches + constants.DefaultMaxMatches/constants.MatchPageSize + 3
	if need := api.PacingDelay(calls) + constants.NarrativeAPITimeout; full < need {
		t.Errorf("PipelineBudget(%d) = %v, pacing and narrative need %v", constants.DefaultMaxMatches, full, need)
	}
	if PolicyFromConfig(&config.Config{MaxMatches: constants.DefaultMaxMatches}).Timeout != full {
		t.Error("PolicyFromConfig() does not derive the pipeline timeout from MaxMatches")
	}
}

func TestIdenticalSnapshotStoredOnce(t *testing.T) {
	ingestion := &fakeIngestor{history: domain.MatchHistory{Records: recordsAcrossMonths(30, 3)}}
	f := newFixture(t, ingestion, &fakeNarrator{})

	first := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	second := f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	if first.State != domain.JobCompleted || second.State != domain.JobCompleted {
		t.Fatalf("states = %s, %s; want completed", first.State, second.State)
	}

	snaps, err := f.snapshots.ListByPuuid(context.Background(), "puuid-1", 10)
	if err != nil {
		t.Fatalf("ListByPuuid() error: %v", err)
	}
	if len(snaps) != 1 || snaps[0].JobID != first.JobID {
		t.Fatalf("snapshots = %+v, want only the first job's", snaps)
	}

	// different statistics are stored again
	ingestion.history = domain.MatchHistory{Records: recordsAcrossMonths(40, 4)}
	f.submitAndWait(t, RecapRequest{Handle: "Faker#KR1", Region: "kr"})
	if snaps, _ := f.snapshots.ListByPuuid(context.Background(), "puuid-1", 10); len(snaps) != 2 {
		t.Errorf("got %d snapshots, want 2", len(snaps))
	}
}
