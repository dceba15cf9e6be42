package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"summoner-story/internal/domain"

	"github.com/goccy/go-json"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobConflict means the stored job no longer matches the expected state and progress.
	ErrJobConflict = errors.New("job was modified concurrently")
)

type JobRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewJobRepository(sqlDB *sql.DB, logger zerolog.Logger) *JobRepository {
	return &JobRepository{
		db:     sqlDB,
		logger: logger,
		now:    time.Now,
	}
}

// JobUpdate is applied atomically. Nil payload fields leave the stored value untouched.
type JobUpdate struct {
	State     domain.JobState
	Progress  int
	Stats     *domain.StatisticsPayload
	Narrative *domain.Narrative
	Error     *domain.JobError
}

const jobColumns = `id, session_id, player_handle, region, state, progress, stats_json, narrative_json,
	error_kind, error_code, error_message, created_at, updated_at, expires_at`

// Create stores a new pending job and fills in its id and timestamps.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job, retention time.Duration) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate nanoid: %w", err)
	}

	now := r.now().UTC()
	job.ID = id
	job.State = domain.JobPending
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	job.ExpiresAt = now.Add(retention)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, session_id, player_handle, region, state, progress, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.PlayerHandle, job.Region, string(job.State), job.Progress,
		job.CreatedAt, job.UpdatedAt, job.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	r.logger.Debug().Str("job_id", job.ID).Str("player", job.PlayerHandle).Msg("job created")
	return nil
}

// Get returns ErrJobNotFound for unknown jobs and for jobs past their retention window.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)

	var (
		job                          domain.Job
		statsJSON, narrativeJSON     sql.NullString
		errKind, errCode, errMessage sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.SessionID, &job.PlayerHandle, &job.Region, &job.State, &job.Progress,
		&statsJSON, &narrativeJSON, &errKind, &errCode, &errMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if !r.now().Before(job.ExpiresAt) {
		return nil, ErrJobNotFound
	}

	if statsJSON.Valid {
		job.Stats = &domain.StatisticsPayload{}
		if err := json.Unmarshal([]byte(statsJSON.String), job.Stats); err != nil {
			return nil, fmt.Errorf("failed to decode stats for job %s: %w", id, err)
		}
	}
	if narrativeJSON.Valid {
		job.Narrative = &domain.Narrative{}
		if err := json.Unmarshal([]byte(narrativeJSON.String), job.Narrative); err != nil {
			return nil, fmt.Errorf("failed to decode narrative for job %s: %w", id, err)
		}
	}
	if errKind.Valid {
		job.Error = &domain.JobError{
			Kind:    errKind.String,
			Code:    errCode.String,
			Message: errMessage.String,
		}
	}

	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.ExpiresAt = job.ExpiresAt.UTC()
	return &job, nil
}

// CompareAndSet applies update only if the job is still in (fromState, fromProgress). A lost race
// returns ErrJobConflict.
func (r *JobRepository) CompareAndSet(ctx context.Context, id string, fromState domain.JobState, fromProgress int, update JobUpdate) (time.Time, error) {
	var statsJSON, narrativeJSON sql.NullString
	if update.Stats != nil {
		b, err := json.Marshal(update.Stats)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to encode stats: %w", err)
		}
		statsJSON = sql.NullString{String: string(b), Valid: true}
	}
	if update.Narrative != nil {
		b, err := json.Marshal(update.Narrative)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to encode narrative: %w", err)
		}
		narrativeJSON = sql.NullString{String: string(b), Valid: true}
	}

	var errKind, errCode, errMessage sql.NullString
	if update.Error != nil {
		errKind = sql.NullString{String: update.Error.Kind, Valid: true}
		errCode = sql.NullString{String: update.Error.Code, Valid: true}
		errMessage = sql.NullString{String: update.Error.Message, Valid: true}
	}

	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET
			state = ?,
			progress = ?,
			stats_json = COALESCE(?, stats_json),
			narrative_json = COALESCE(?, narrative_json),
			error_kind = COALESCE(?, error_kind),
			error_code = COALESCE(?, error_code),
			error_message = COALESCE(?, error_message),
			updated_at = ?
		WHERE id = ? AND state = ? AND progress = ?`,
		string(update.State), update.Progress, statsJSON, narrativeJSON, errKind, errCode, errMessage, now,
		id, string(fromState), fromProgress,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, err
	}
	if affected == 0 {
		return time.Time{}, ErrJobConflict
	}
	return now, nil
}

// DeleteExpired removes jobs whose retention window has passed.
func (r *JobRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE expires_at <= ?`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	return res.RowsAffected()
}
