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

// Snapshot is one computed statistics payload kept per player for later comparison.
type Snapshot struct {
	ID          string
	Puuid       string
	JobID       string
	Window      domain.Window
	TotalGames  int
	Partial     bool
	Fingerprint string
	Payload     domain.StatisticsPayload
	CreatedAt   time.Time
}

type SnapshotRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSnapshotRepository(sqlDB *sql.DB, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *SnapshotRepository) Save(ctx context.Context, s *Snapshot) error {
	if s.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		s.ID = id
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO stats_snapshots
			(id, puuid, job_id, window_start, window_end, total_games, partial, fingerprint, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Puuid, s.JobID, s.Window.Start.UTC(), s.Window.End.UTC(), s.TotalGames, s.Partial,
		s.Fingerprint, string(payload), s.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	r.logger.Debug().
		Str("snapshot_id", s.ID).
		Str("puuid", s.Puuid).
		Int("total_games", s.TotalGames).
		Msg("statistics snapshot saved")
	return nil
}

const snapshotColumns = `id, puuid, job_id, window_start, window_end, total_games, partial, fingerprint,
	payload, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*Snapshot, error) {
	var (
		s       Snapshot
		payload string
	)
	err := row.Scan(
		&s.ID, &s.Puuid, &s.JobID, &s.Window.Start, &s.Window.End, &s.TotalGames, &s.Partial,
		&s.Fingerprint, &payload, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &s.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.ID, err)
	}
	return &s, nil
}

// ListByPuuid returns the newest snapshots first.
func (r *SnapshotRepository) ListByPuuid(ctx context.Context, puuid string, limit int) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+`
		FROM stats_snapshots
		WHERE puuid = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		puuid, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// FindRecent returns the newest snapshot of puuid with the given fingerprint created at or after
// since, or nil when there is none.
func (r *SnapshotRepository) FindRecent(ctx context.Context, puuid, fingerprint string, since time.Time) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+`
		FROM stats_snapshots
		WHERE puuid = ? AND fingerprint = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1`,
		puuid, fingerprint, since.UTC(),
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}
