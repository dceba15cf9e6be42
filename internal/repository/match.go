package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"summoner-story/internal/constants"
	"summoner-story/internal/domain"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// MatchRepository stores the subject player's participant record per match so repeat recaps only
// fetch match details they have not seen.
type MatchRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{
		db:     sqlDB,
		logger: logger,
	}
}

const matchColumns = `match_id, played_at, duration_sec, queue_id, champion_id, champion_name, role,
	kills, deaths, assists, win, extras`

func scanMatch(rows *sql.Rows) (domain.MatchRecord, error) {
	var (
		m        domain.MatchRecord
		duration int64
		extras   string
	)
	err := rows.Scan(
		&m.MatchID, &m.Timestamp, &duration, &m.QueueID, &m.ChampionID, &m.ChampionName, &m.Role,
		&m.Kills, &m.Deaths, &m.Assists, &m.Win, &extras,
	)
	if err != nil {
		return m, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.Duration = time.Duration(duration) * time.Second
	if err := json.Unmarshal([]byte(extras), &m.Extras); err != nil {
		return m, fmt.Errorf("failed to decode extras for %s: %w", m.MatchID, err)
	}
	return m, nil
}

// GetByIDs returns the stored records among matchIDs, keyed by match id.
func (r *MatchRepository) GetByIDs(ctx context.Context, puuid string, matchIDs []string) (map[string]domain.MatchRecord, error) {
	found := make(map[string]domain.MatchRecord, len(matchIDs))

	for i := 0; i < len(matchIDs); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(matchIDs))
		batch := matchIDs[i:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, puuid)
		for _, id := range batch {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		rows, err := r.db.QueryContext(ctx,
			`SELECT `+matchColumns+` FROM match_records
			WHERE puuid = ? AND match_id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			m, err := scanMatch(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			found[m.MatchID] = m
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return found, nil
}

func (r *MatchRepository) UpsertBatch(ctx context.Context, puuid string, records []domain.MatchRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO match_records (`+matchColumns+`, puuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id, puuid) DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := 0; i < len(records); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(records))

		for _, m := range records[i:end] {
			extras, err := json.Marshal(m.Extras)
			if err != nil {
				return fmt.Errorf("failed to encode extras for %s: %w", m.MatchID, err)
			}
			_, err = stmt.ExecContext(ctx,
				m.MatchID, m.Timestamp.UTC(), int64(m.Duration/time.Second), m.QueueID, m.ChampionID, m.ChampionName, m.Role,
				m.Kills, m.Deaths, m.Assists, m.Win, string(extras), puuid, now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert match %s: %w", m.MatchID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Debug().Str("puuid", puuid).Int("count", len(records)).Msg("match records stored")
	return nil
}
