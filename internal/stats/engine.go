// Package stats turns a player's match records into a StatisticsPayload. Everything here is pure:
// no I/O, no clock, no randomness, so the same records always produce the same payload.
package stats

import (
	"math"
	"sort"
	"time"

	"summoner-story/internal/domain"
)

const (
	DefaultMinGamesPerMonth = 5
	DefaultHighlightCount   = 5

	// slope in win-rate percentage points per month that maps to a trend of ±1
	trendScale = 10.0
)

type Options struct {
	// MinGamesPerMonth excludes sparse months from the consistency computation.
	MinGamesPerMonth int
	HighlightCount   int
}

type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.MinGamesPerMonth <= 0 {
		opts.MinGamesPerMonth = DefaultMinGamesPerMonth
	}
	if opts.HighlightCount <= 0 {
		opts.HighlightCount = DefaultHighlightCount
	}
	return &Engine{opts: opts}
}

type bucket struct {
	games, wins            int
	kills, deaths, assists int
}

func (b *bucket) add(r domain.MatchRecord) {
	b.games++
	if r.Win {
		b.wins++
	}
	b.kills += r.Kills
	b.deaths += r.Deaths
	b.assists += r.Assists
}

type championBucket struct {
	bucket
	name                 string
	damage, gold, creeps int
}

type monthBucket struct {
	bucket
	year  int
	month time.Month
}

// Aggregate computes the payload for records. An empty input is valid and yields zero values and
// empty collections.
func (e *Engine) Aggregate(records []domain.MatchRecord) domain.StatisticsPayload {
	payload := domain.StatisticsPayload{
		ChampionStats: []domain.ChampionStat{},
		RoleStats:     []domain.RoleStat{},
		MonthlyTrends: []domain.MonthlyTrend{},
		Highlights:    []domain.HighlightMatch{},
	}
	if len(records) == 0 {
		return payload
	}

	var total bucket
	champions := make(map[int]*championBucket)
	roles := make(map[string]*bucket)
	months := make(map[string]*monthBucket)
	var durationTotal time.Duration

	for _, r := range records {
		total.add(r)
		durationTotal += r.Duration

		c, ok := champions[r.ChampionID]
		if !ok {
			c = &championBucket{name: r.ChampionName}
			champions[r.ChampionID] = c
		}
		c.add(r)
		c.damage += r.Extras.DamageToChampions
		c.gold += r.Extras.GoldEarned
		c.creeps += r.Extras.CreepScore

		role := r.Role
		if role == "" {
			role = "UNKNOWN"
		}
		rb, ok := roles[role]
		if !ok {
			rb = &bucket{}
			roles[role] = rb
		}
		rb.add(r)

		ts := r.Timestamp.UTC()
		key := ts.Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &monthBucket{year: ts.Year(), month: ts.Month()}
			months[key] = m
		}
		m.add(r)
	}

	payload.TotalGames = total.games
	payload.TotalWins = total.wins
	payload.TotalLosses = total.games - total.wins
	payload.TotalKills = total.kills
	payload.TotalDeaths = total.deaths
	payload.TotalAssists = total.assists
	payload.WinRate = WinRate(total.wins, total.games)
	payload.AvgKDA = KDA(total.kills, total.deaths, total.assists)
	payload.AvgKills = round(float64(total.kills)/float64(total.games), 2)
	payload.AvgDeaths = round(float64(total.deaths)/float64(total.games), 2)
	payload.AvgAssists = round(float64(total.assists)/float64(total.games), 2)

	payload.ChampionStats = championStats(champions)
	payload.RoleStats = roleStats(roles)
	payload.MonthlyTrends = monthlyTrends(months)
	payload.Highlights = Highlights(records, e.opts.HighlightCount)
	payload.Featured = featured(payload.ChampionStats)

	payload.ConsistencyScore = e.consistency(payload.MonthlyTrends)
	payload.ImprovementTrend = improvementTrend(payload.MonthlyTrends)
	payload.Behavior = behavior(records, payload, durationTotal)

	return payload
}

// WinRate is a percentage rounded to two decimals; zero games yields zero.
func WinRate(wins, games int) float64 {
	if games == 0 {
		return 0
	}
	return round(float64(wins)/float64(games)*100, 2)
}

// KDA is (kills + assists) / max(deaths, 1), rounded to two decimals.
func KDA(kills, deaths, assists int) float64 {
	d := deaths
	if d < 1 {
		d = 1
	}
	return round(float64(kills+assists)/float64(d), 2)
}

// HighlightScore is the composite used to rank standout performances.
func HighlightScore(r domain.MatchRecord) float64 {
	return float64(r.Kills) + float64(r.Assists)*0.75 - float64(r.Deaths)*1.5
}

// Highlights returns the top n records by HighlightScore, ties broken by most recent timestamp and
// then by match id.
func Highlights(records []domain.MatchRecord, n int) []domain.HighlightMatch {
	ranked := make([]domain.MatchRecord, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := HighlightScore(ranked[i]), HighlightScore(ranked[j])
		if si != sj {
			return si > sj
		}
		if !ranked[i].Timestamp.Equal(ranked[j].Timestamp) {
			return ranked[i].Timestamp.After(ranked[j].Timestamp)
		}
		return ranked[i].MatchID < ranked[j].MatchID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	out := make([]domain.HighlightMatch, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, domain.HighlightMatch{
			MatchID:      r.MatchID,
			Timestamp:    r.Timestamp.UTC(),
			ChampionID:   r.ChampionID,
			ChampionName: r.ChampionName,
			Role:         r.Role,
			Kills:        r.Kills,
			Deaths:       r.Deaths,
			Assists:      r.Assists,
			Win:          r.Win,
			Score:        round(HighlightScore(r), 2),
		})
	}
	return out
}

// SortChampionStats orders by games desc, win rate desc, champion id asc.
func SortChampionStats(stats []domain.ChampionStat) {
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Games != b.Games {
			return a.Games > b.Games
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		return a.ChampionID < b.ChampionID
	})
}

// SortRoleStats orders by games desc, win rate desc, role asc.
func SortRoleStats(stats []domain.RoleStat) {
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.Games != b.Games {
			return a.Games > b.Games
		}
		if a.WinRate != b.WinRate {
			return a.WinRate > b.WinRate
		}
		return a.Role < b.Role
	})
}

// SortHighlights orders by score desc, most recent first, then match id.
func SortHighlights(highlights []domain.HighlightMatch) {
	sort.Slice(highlights, func(i, j int) bool {
		a, b := highlights[i], highlights[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.MatchID < b.MatchID
	})
}

func SortMonthlyTrends(trends []domain.MonthlyTrend) {
	sort.Slice(trends, func(i, j int) bool {
		return trends[i].Month < trends[j].Month
	})
}

func championStats(champions map[int]*championBucket) []domain.ChampionStat {
	out := make([]domain.ChampionStat, 0, len(champions))
	for id, c := range champions {
		out = append(out, domain.ChampionStat{
			ChampionID:   id,
			ChampionName: c.name,
			Games:        c.games,
			Wins:         c.wins,
			Losses:       c.games - c.wins,
			WinRate:      WinRate(c.wins, c.games),
			Kills:        c.kills,
			Deaths:       c.deaths,
			Assists:      c.assists,
			AvgKDA:       KDA(c.kills, c.deaths, c.assists),
			TotalDamage:  c.damage,
			TotalGold:    c.gold,
			TotalCreeps:  c.creeps,
		})
	}
	SortChampionStats(out)
	return out
}

func roleStats(roles map[string]*bucket) []domain.RoleStat {
	out := make([]domain.RoleStat, 0, len(roles))
	for role, b := range roles {
		out = append(out, domain.RoleStat{
			Role:    role,
			Games:   b.games,
			Wins:    b.wins,
			WinRate: WinRate(b.wins, b.games),
			AvgKDA:  KDA(b.kills, b.deaths, b.assists),
		})
	}
	SortRoleStats(out)
	return out
}

func monthlyTrends(months map[string]*monthBucket) []domain.MonthlyTrend {
	out := make([]domain.MonthlyTrend, 0, len(months))
	for key, m := range months {
		out = append(out, domain.MonthlyTrend{
			Month:   key,
			Year:    m.year,
			Games:   m.games,
			Wins:    m.wins,
			Losses:  m.games - m.wins,
			WinRate: WinRate(m.wins, m.games),
			Kills:   m.kills,
			Deaths:  m.deaths,
			Assists: m.assists,
			AvgKDA:  KDA(m.kills, m.deaths, m.assists),
		})
	}
	SortMonthlyTrends(out)
	return out
}

// featured expects champion stats already in canonical order.
func featured(champions []domain.ChampionStat) domain.FeaturedChampions {
	var f domain.FeaturedChampions
	if len(champions) == 0 {
		return f
	}
	f.MostPlayed = champions[0].ChampionID

	bestWR, bestKDA := champions[0], champions[0]
	for _, c := range champions[1:] {
		if c.WinRate > bestWR.WinRate {
			bestWR = c
		}
		if c.AvgKDA > bestKDA.AvgKDA {
			bestKDA = c
		}
	}
	f.HighestWinRate = bestWR.ChampionID
	f.BestKDA = bestKDA.ChampionID
	return f
}

// consistency is 100 minus the coefficient of variation (capped at 1, scaled to 100) of monthly win
// rates, over months with enough games.
func (e *Engine) consistency(trends []domain.MonthlyTrend) float64 {
	var rates []float64
	for _, t := range trends {
		if t.Games >= e.opts.MinGamesPerMonth {
			rates = append(rates, float64(t.Wins)/float64(t.Games))
		}
	}
	if len(rates) < 2 {
		return 100
	}

	var sum float64
	for _, r := range rates {
		sum += r
	}
	mean := sum / float64(len(rates))
	if mean == 0 {
		return 100
	}

	var variance float64
	for _, r := range rates {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rates))
	cv := math.Sqrt(variance) / mean

	return round(100*(1-math.Min(cv, 1)), 1)
}

// improvementTrend fits a least-squares line of monthly win rate against calendar month index and
// maps the slope into [-1, 1].
func improvementTrend(trends []domain.MonthlyTrend) float64 {
	if len(trends) < 2 {
		return 0
	}

	first, err := time.Parse("2006-01", trends[0].Month)
	if err != nil {
		return 0
	}

	n := float64(len(trends))
	var sumX, sumY, sumXY, sumX2 float64
	for _, t := range trends {
		ts, err := time.Parse("2006-01", t.Month)
		if err != nil {
			return 0
		}
		x := float64((ts.Year()-first.Year())*12 + int(ts.Month()-first.Month()))
		y := t.WinRate
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denominator

	return round(math.Max(-1, math.Min(1, slope/trendScale)), 3)
}

func behavior(records []domain.MatchRecord, payload domain.StatisticsPayload, durationTotal time.Duration) *domain.BehavioralSignals {
	ordered := make([]domain.MatchRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].MatchID < ordered[j].MatchID
	})

	b := &domain.BehavioralSignals{
		ChampionPoolSize:   len(payload.ChampionStats),
		TotalMinutesPlayed: round(durationTotal.Minutes(), 1),
		AvgGameMinutes:     round(durationTotal.Minutes()/float64(len(records)), 1),
	}

	var winRun, lossRun int
	for _, r := range ordered {
		if r.Win {
			winRun++
			lossRun = 0
		} else {
			lossRun++
			winRun = 0
		}
		b.LongestWinStreak = max(b.LongestWinStreak, winRun)
		b.LongestLossStreak = max(b.LongestLossStreak, lossRun)
	}

	peakGames := 0
	for _, t := range payload.MonthlyTrends {
		if t.Games > peakGames {
			peakGames = t.Games
			b.PeakMonth = t.Month
		}
	}
	return b
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
