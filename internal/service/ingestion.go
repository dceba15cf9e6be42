package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"summoner-story/internal/api"
	"summoner-story/internal/apperror"
	"summoner-story/internal/archive"
	"summoner-story/internal/constants"
	"summoner-story/internal/domain"
	"summoner-story/internal/repository"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RiotAPI is the subset of the Riot client ingestion needs.
type RiotAPI interface {
	GetAccountByRiotID(ctx context.Context, platform, gameName, tagLine string) (*api.AccountResponse, error)
	GetSummonerByPUUID(ctx context.Context, platform, puuid string) (*api.SummonerResponse, error)
	GetMatchIDs(ctx context.Context, platform, puuid string, q api.MatchListQuery) ([]string, error)
	GetMatch(ctx context.Context, platform, matchID string) (*api.MatchResponse, error)
}

// ProgressFunc receives the share of the history covered so far, in [0, 1].
type ProgressFunc func(covered float64)

type HistoryOptions struct {
	Window     domain.Window
	MaxMatches int
	// Queue restricts the match list to one queue id; zero means every queue.
	Queue    int
	Progress ProgressFunc
}

type IngestionService struct {
	riot    RiotAPI
	players *repository.PlayerRepository
	matches *repository.MatchRepository
	archive archive.Store
	logger  zerolog.Logger
	now     func() time.Time
}

func NewIngestionService(riot RiotAPI, players *repository.PlayerRepository, matches *repository.MatchRepository, store archive.Store, logger zerolog.Logger) *IngestionService {
	return &IngestionService{
		riot:    riot,
		players: players,
		matches: matches,
		archive: store,
		logger:  logger.With().Str("component", "ingestion").Logger(),
		now:     time.Now,
	}
}

// FetchProfile resolves "Name#TAG" in region to a player. Recently fetched profiles are served from
// the player cache.
func (s *IngestionService) FetchProfile(ctx context.Context, handle, region string) (domain.PlayerProfile, error) {
	platform, ok := api.NormalizeRegion(region)
	if !ok {
		return domain.PlayerProfile{}, apperror.Newf(apperror.KindRegionInvalid, "unknown region %q", region)
	}
	gameName, tagLine, ok := api.ParseHandle(handle, platform)
	if !ok {
		return domain.PlayerProfile{}, apperror.Newf(apperror.KindPlayerNotFound, "malformed handle %q", handle)
	}

	cached, fresh, err := s.players.GetFresh(ctx, gameName, tagLine, platform, constants.PlayerRefreshTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("game_name", gameName).Msg("player cache lookup failed")
	}
	if fresh {
		s.logger.Debug().Str("puuid", cached.Puuid).Msg("returning cached player")
		return *cached, nil
	}

	account, err := s.riot.GetAccountByRiotID(ctx, platform, gameName, tagLine)
	if errors.Is(err, api.ErrNotFound) {
		return domain.PlayerProfile{}, apperror.Wrap(apperror.KindPlayerNotFound, err, gameName+"#"+tagLine+" does not exist")
	}
	if err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("failed to fetch account: %w", err)
	}

	summoner, err := s.riot.GetSummonerByPUUID(ctx, platform, account.PUUID)
	if errors.Is(err, api.ErrNotFound) {
		return domain.PlayerProfile{}, apperror.Wrap(apperror.KindPlayerNotFound, err, "no summoner in region "+platform)
	}
	if err != nil {
		return domain.PlayerProfile{}, fmt.Errorf("failed to fetch summoner: %w", err)
	}

	profile := domain.PlayerProfile{
		Puuid:         account.PUUID,
		GameName:      account.GameName,
		TagLine:       account.TagLine,
		Region:        platform,
		SummonerLevel: summoner.SummonerLevel,
		ProfileIconID: summoner.ProfileIconID,
		LastFetchAt:   s.now().UTC(),
	}
	if cached != nil && cached.Puuid == profile.Puuid {
		profile.CreatedAt = cached.CreatedAt
	}
	if err := s.players.Upsert(ctx, &profile); err != nil {
		s.logger.Warn().Err(err).Str("puuid", profile.Puuid).Msg("failed to cache player")
	}

	s.logger.Info().
		Str("puuid", profile.Puuid).
		Str("handle", profile.Handle()).
		Str("region", platform).
		Msg("player resolved")
	return profile, nil
}

// FetchMatchHistory pages through the player's match ids inside the window and returns the
// subject's records in timestamp order. Details already stored are not fetched again. When the
// upstream fails after some records were collected, the history is returned with Partial set.
func (s *IngestionService) FetchMatchHistory(ctx context.Context, profile domain.PlayerProfile, opts HistoryOptions) (domain.MatchHistory, error) {
	opts = s.withDefaults(opts)
	history := domain.MatchHistory{Profile: profile}

	var (
		records []domain.MatchRecord
		raw     []*api.MatchResponse
		seen    = make(map[string]struct{})
		start   int
	)

	for {
		ids, err := s.riot.GetMatchIDs(ctx, profile.Region, profile.Puuid, api.MatchListQuery{
			StartTime: opts.Window.Start.Unix(),
			EndTime:   opts.Window.End.Unix(),
			Start:     start,
			Count:     constants.MatchPageSize,
			Queue:     opts.Queue,
		})
		if err != nil {
			if len(records) == 0 {
				return domain.MatchHistory{}, fmt.Errorf("failed to list matches: %w", err)
			}
			history.Partial, history.PartialCause = true, err
			break
		}

		page := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			page = append(page, id)
		}
		if remaining := opts.MaxMatches - len(records); len(page) > remaining {
			page = page[:remaining]
			history.Truncated = true
		}

		pageRecords, pageRaw, err := s.fetchPage(ctx, profile, page)
		records = append(records, pageRecords...)
		raw = append(raw, pageRaw...)
		if err != nil {
			if len(records) == 0 {
				return domain.MatchHistory{}, fmt.Errorf("failed to fetch match details: %w", err)
			}
			history.Partial, history.PartialCause = true, err
			break
		}

		s.reportProgress(opts, records)

		if history.Truncated || len(ids) < constants.MatchPageSize {
			break
		}
		if len(records) >= opts.MaxMatches {
			history.Truncated = true
			break
		}
		start += len(ids)
	}

	records = inWindow(records, opts.Window)
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].MatchID < records[j].MatchID
	})
	history.Records = records

	s.archiveRaw(ctx, profile.Puuid, raw)

	logEvent := s.logger.Info()
	if history.Partial {
		logEvent = s.logger.Warn().AnErr("cause", history.PartialCause)
	}
	logEvent.
		Str("puuid", profile.Puuid).
		Int("records", len(records)).
		Bool("partial", history.Partial).
		Bool("truncated", history.Truncated).
		Msg("match history fetched")
	return history, nil
}

func (s *IngestionService) withDefaults(opts HistoryOptions) HistoryOptions {
	if opts.Window.End.IsZero() {
		opts.Window.End = s.now().UTC()
	}
	if opts.Window.Start.IsZero() {
		opts.Window.Start = opts.Window.End.AddDate(0, -constants.DefaultHistoryMonths, 0)
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = constants.DefaultMaxMatches
	}
	return opts
}

// fetchPage returns the records for ids, reusing stored ones and fetching the rest concurrently.
// On error it still returns whatever was fetched before the group was cancelled.
func (s *IngestionService) fetchPage(ctx context.Context, profile domain.PlayerProfile, ids []string) ([]domain.MatchRecord, []*api.MatchResponse, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	stored, err := s.matches.GetByIDs(ctx, profile.Puuid, ids)
	if err != nil {
		s.logger.Warn().Err(err).Str("puuid", profile.Puuid).Msg("failed to read stored matches")
		stored = nil
	}

	var (
		mu      sync.Mutex
		fetched []domain.MatchRecord
		raw     []*api.MatchResponse
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(constants.MatchDetailWorkers)
	for _, id := range ids {
		if _, ok := stored[id]; ok {
			continue
		}
		g.Go(func() error {
			match, err := s.riot.GetMatch(gCtx, profile.Region, id)
			if errors.Is(err, api.ErrNotFound) {
				s.logger.Debug().Str("match_id", id).Msg("match detail not found, skipping")
				return nil
			}
			if err != nil {
				return err
			}
			if match.Metadata.MatchID == "" {
				match.Metadata.MatchID = id
			}
			participant, ok := match.Participant(profile.Puuid)
			if !ok {
				s.logger.Warn().Str("match_id", id).Msg("subject missing from match participants")
				return nil
			}

			mu.Lock()
			fetched = append(fetched, toRecord(match, participant))
			raw = append(raw, match)
			mu.Unlock()
			return nil
		})
	}
	groupErr := g.Wait()

	if len(fetched) > 0 {
		// fetched records are kept even when the fetch deadline cut the page short
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.DatabaseTimeout)
		defer cancel()
		if err := s.matches.UpsertBatch(storeCtx, profile.Puuid, fetched); err != nil {
			s.logger.Warn().Err(err).Str("puuid", profile.Puuid).Msg("failed to store match records")
		}
	}

	records := make([]domain.MatchRecord, 0, len(stored)+len(fetched))
	for _, id := range ids {
		if r, ok := stored[id]; ok {
			records = append(records, r)
		}
	}
	records = append(records, fetched...)

	s.logger.Debug().
		Str("puuid", profile.Puuid).
		Int("page", len(ids)).
		Int("stored", len(stored)).
		Int("fetched", len(fetched)).
		Msg("match page processed")
	return records, raw, groupErr
}

// reportProgress uses the larger of time coverage (the list is newest first) and the share of the
// match budget already used.
func (s *IngestionService) reportProgress(opts HistoryOptions, records []domain.MatchRecord) {
	if opts.Progress == nil || len(records) == 0 {
		return
	}
	oldest := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
		}
	}

	span := opts.Window.End.Sub(opts.Window.Start)
	covered := float64(len(records)) / float64(opts.MaxMatches)
	if span > 0 {
		covered = max(covered, float64(opts.Window.End.Sub(oldest))/float64(span))
	}
	opts.Progress(min(max(covered, 0), 1))
}

func (s *IngestionService) archiveRaw(ctx context.Context, puuid string, raw []*api.MatchResponse) {
	if len(raw) == 0 || !s.archive.Enabled() {
		return
	}
	body, err := json.Marshal(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("puuid", puuid).Msg("failed to encode raw matches")
		return
	}

	archiveCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()
	key := archive.RawMatchesKey(puuid, s.now())
	if err := s.archive.Put(archiveCtx, key, body); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to archive raw matches")
	}
}

func inWindow(records []domain.MatchRecord, w domain.Window) []domain.MatchRecord {
	out := records[:0]
	for _, r := range records {
		if r.Timestamp.Before(w.Start) || r.Timestamp.After(w.End) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func toRecord(m *api.MatchResponse, p api.MatchParticipant) domain.MatchRecord {
	startMs := m.Info.GameStartTimestamp
	if startMs == 0 {
		startMs = m.Info.GameCreation
	}

	role := p.TeamPosition
	if role == "" || strings.EqualFold(role, "Invalid") {
		role = p.IndividualPosition
	}
	if strings.EqualFold(role, "Invalid") {
		role = ""
	}

	return domain.MatchRecord{
		MatchID:      m.Metadata.MatchID,
		Timestamp:    time.UnixMilli(startMs).UTC(),
		Duration:     time.Duration(m.Info.GameDuration) * time.Second,
		QueueID:      m.Info.QueueID,
		ChampionID:   p.ChampionID,
		ChampionName: p.ChampionName,
		Role:         role,
		Kills:        p.Kills,
		Deaths:       p.Deaths,
		Assists:      p.Assists,
		Win:          p.Win,
		Extras: domain.MatchExtras{
			DamageToChampions: p.TotalDamageDealtToChampions,
			GoldEarned:        p.GoldEarned,
			CreepScore:        p.TotalMinionsKilled + p.NeutralMinionsKilled,
			VisionScore:       p.VisionScore,
			Items:             [7]int{p.Item0, p.Item1, p.Item2, p.Item3, p.Item4, p.Item5, p.Item6},
		},
	}
}
