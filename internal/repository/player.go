package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"summoner-story/internal/domain"

	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     sqlDB,
		logger: logger,
	}
}

const playerColumns = `puuid, game_name, tag_line, region, summoner_level, profile_icon_id,
	last_fetch_at, created_at, updated_at`

func scanPlayer(row interface{ Scan(...any) error }) (*domain.PlayerProfile, error) {
	var p domain.PlayerProfile
	err := row.Scan(
		&p.Puuid, &p.GameName, &p.TagLine, &p.Region, &p.SummonerLevel, &p.ProfileIconID,
		&p.LastFetchAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByHandle matches name and tag case-insensitively within a region.
func (r *PlayerRepository) GetByHandle(ctx context.Context, gameName, tagLine, region string) (*domain.PlayerProfile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players
		WHERE region = ? AND game_name = ? COLLATE NOCASE AND tag_line = ? COLLATE NOCASE`,
		region, gameName, tagLine,
	)
	return scanPlayer(row)
}

// GetFresh returns a cached profile only when it was fetched within ttl.
func (r *PlayerRepository) GetFresh(ctx context.Context, gameName, tagLine, region string, ttl time.Duration) (*domain.PlayerProfile, bool, error) {
	player, err := r.GetByHandle(ctx, gameName, tagLine, region)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debug().
			Str("game_name", gameName).
			Str("tag_line", tagLine).
			Msg("player not cached, should refresh")
		return nil, false, nil
	}
	if err != nil {
		r.logger.Error().Err(err).Str("game_name", gameName).Msg("failed to get player")
		return nil, false, err
	}

	timeSince := time.Since(player.LastFetchAt)
	fresh := timeSince <= ttl
	r.logger.Debug().
		Str("puuid", player.Puuid).
		Time("last_fetch_at", player.LastFetchAt).
		Dur("time_since", timeSince).
		Dur("ttl", ttl).
		Bool("fresh", fresh).
		Msg("checking cached player")

	return player, fresh, nil
}

func (r *PlayerRepository) Upsert(ctx context.Context, player *domain.PlayerProfile) error {
	now := time.Now().UTC()
	if player.CreatedAt.IsZero() {
		player.CreatedAt = now
	}
	if player.LastFetchAt.IsZero() {
		player.LastFetchAt = now
	}
	player.UpdatedAt = now

	// a renamed account frees its old handle, so clear any stale row holding it first
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM players
		WHERE region = ? AND game_name = ? COLLATE NOCASE AND tag_line = ? COLLATE NOCASE AND puuid <> ?`,
		player.Region, player.GameName, player.TagLine, player.Puuid,
	)
	if err != nil {
		return fmt.Errorf("failed to clear stale handle: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO players (`+playerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (puuid) DO UPDATE SET
			game_name = excluded.game_name,
			tag_line = excluded.tag_line,
			region = excluded.region,
			summoner_level = excluded.summoner_level,
			profile_icon_id = excluded.profile_icon_id,
			last_fetch_at = excluded.last_fetch_at,
			updated_at = excluded.updated_at`,
		player.Puuid, player.GameName, player.TagLine, player.Region, player.SummonerLevel, player.ProfileIconID,
		player.LastFetchAt.UTC(), player.CreatedAt.UTC(), player.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", player.Puuid, err)
	}

	return tx.Commit()
}
