package stats

import (
	"fmt"
	"testing"
	"time"

	"summoner-story/internal/domain"
)

var base = time.Date(2025, time.January, 10, 18, 0, 0, 0, time.UTC)

func record(id string, ts time.Time, champ int, role string, k, d, a int, win bool) domain.MatchRecord {
	return domain.MatchRecord{
		MatchID:      id,
		Timestamp:    ts,
		Duration:     30 * time.Minute,
		QueueID:      420,
		ChampionID:   champ,
		ChampionName: fmt.Sprintf("Champ%d", champ),
		Role:         role,
		Kills:        k,
		Deaths:       d,
		Assists:      a,
		Win:          win,
	}
}

func TestAggregateEmpty(t *testing.T) {
	p := NewEngine(Options{}).Aggregate(nil)

	if p.TotalGames != 0 || p.WinRate != 0 || p.AvgKDA != 0 {
		t.Errorf("expected zero scalars, got games=%d win_rate=%v kda=%v", p.TotalGames, p.WinRate, p.AvgKDA)
	}
	if p.ConsistencyScore != 0 || p.ImprovementTrend != 0 {
		t.Errorf("expected neutral signals, got consistency=%v trend=%v", p.ConsistencyScore, p.ImprovementTrend)
	}
	if p.ChampionStats == nil || len(p.ChampionStats) != 0 {
		t.Error("champion stats should be an empty, non-nil slice")
	}
	if p.MonthlyTrends == nil || len(p.MonthlyTrends) != 0 {
		t.Error("monthly trends should be an empty, non-nil slice")
	}
	if p.Highlights == nil || len(p.Highlights) != 0 {
		t.Error("highlights should be an empty, non-nil slice")
	}
	if p.Behavior != nil {
		t.Error("behavior should be nil for an empty history")
	}
}

func TestAggregateSingleChampionScenario(t *testing.T) {
	// 6 wins, 4 losses, 40/20/30 in total
	var records []domain.MatchRecord
	for i := range 10 {
		ts := base.Add(time.Duration(i) * time.Hour)
		records = append(records, record(fmt.Sprintf("NA1_%d", i), ts, 99, "MIDDLE", 4, 2, 3, i < 6))
	}

	p := NewEngine(Options{}).Aggregate(records)

	if p.WinRate != 60.0 {
		t.Errorf("WinRate = %v, want 60.0", p.WinRate)
	}
	if p.AvgKDA != 3.5 {
		t.Errorf("AvgKDA = %v, want 3.5", p.AvgKDA)
	}
	if p.TotalWins != 6 || p.TotalLosses != 4 {
		t.Errorf("wins/losses = %d/%d, want 6/4", p.TotalWins, p.TotalLosses)
	}
	if len(p.ChampionStats) != 1 || p.ChampionStats[0].AvgKDA != 3.5 {
		t.Errorf("unexpected champion stats: %+v", p.ChampionStats)
	}
	if p.Featured.MostPlayed != 99 || p.Featured.BestKDA != 99 {
		t.Errorf("unexpected featured champions: %+v", p.Featured)
	}
}

func TestAggregateInvariants(t *testing.T) {
	var records []domain.MatchRecord
	champs := []int{1, 2, 3, 2, 1, 1, 4, 2, 1, 3, 3, 1, 5}
	roles := []string{"TOP", "JUNGLE", "MIDDLE", "BOTTOM", "UTILITY", ""}
	for i, c := range champs {
		ts := base.AddDate(0, i%4, i)
		records = append(records, record(
			fmt.Sprintf("EUW1_%d", i), ts, c, roles[i%len(roles)],
			i%7, (i*3)%5, (i*5)%9, i%3 != 0,
		))
	}

	p := NewEngine(Options{}).Aggregate(records)

	if p.TotalWins+p.TotalLosses != p.TotalGames {
		t.Errorf("wins + losses = %d, games = %d", p.TotalWins+p.TotalLosses, p.TotalGames)
	}
	if p.TotalGames != len(records) {
		t.Errorf("TotalGames = %d, want %d", p.TotalGames, len(records))
	}

	sum := func(n func(i int) int, count int) int {
		total := 0
		for i := range count {
			total += n(i)
		}
		return total
	}
	if got := sum(func(i int) int { return p.ChampionStats[i].Games }, len(p.ChampionStats)); got != p.TotalGames {
		t.Errorf("champion games sum = %d, want %d", got, p.TotalGames)
	}
	if got := sum(func(i int) int { return p.MonthlyTrends[i].Games }, len(p.MonthlyTrends)); got != p.TotalGames {
		t.Errorf("monthly games sum = %d, want %d", got, p.TotalGames)
	}
	if got := sum(func(i int) int { return p.RoleStats[i].Games }, len(p.RoleStats)); got != p.TotalGames {
		t.Errorf("role games sum = %d, want %d", got, p.TotalGames)
	}

	for i := 1; i < len(p.ChampionStats); i++ {
		prev, cur := p.ChampionStats[i-1], p.ChampionStats[i]
		ordered := prev.Games > cur.Games ||
			(prev.Games == cur.Games && prev.WinRate > cur.WinRate) ||
			(prev.Games == cur.Games && prev.WinRate == cur.WinRate && prev.ChampionID < cur.ChampionID)
		if !ordered {
			t.Errorf("champion stats out of order at %d: %+v before %+v", i, prev, cur)
		}
	}
	for i := 1; i < len(p.MonthlyTrends); i++ {
		if p.MonthlyTrends[i-1].Month >= p.MonthlyTrends[i].Month {
			t.Errorf("monthly trends not chronological: %s then %s", p.MonthlyTrends[i-1].Month, p.MonthlyTrends[i].Month)
		}
	}
	if p.ConsistencyScore < 0 || p.ConsistencyScore > 100 {
		t.Errorf("ConsistencyScore = %v out of range", p.ConsistencyScore)
	}
	if p.ImprovementTrend < -1 || p.ImprovementTrend > 1 {
		t.Errorf("ImprovementTrend = %v out of range", p.ImprovementTrend)
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	records := []domain.MatchRecord{
		record("a", base, 1, "TOP", 5, 2, 7, true),
		record("b", base.AddDate(0, 1, 0), 2, "JUNGLE", 1, 6, 3, false),
		record("c", base.AddDate(0, 2, 0), 1, "TOP", 9, 1, 4, true),
	}
	reversed := []domain.MatchRecord{records[2], records[1], records[0]}

	e := NewEngine(Options{})
	a, b := e.Aggregate(records), e.Aggregate(reversed)

	if fmt.Sprintf("%+v", a.ChampionStats) != fmt.Sprintf("%+v", b.ChampionStats) {
		t.Error("champion stats depend on input order")
	}
	if fmt.Sprintf("%+v", a.Highlights) != fmt.Sprintf("%+v", b.Highlights) {
		t.Error("highlights depend on input order")
	}
	if *a.Behavior != *b.Behavior {
		t.Errorf("behavior depends on input order: %+v vs %+v", *a.Behavior, *b.Behavior)
	}
}

func TestHighlights(t *testing.T) {
	// scores: best 21, tie-* 10, mid 6, tie-id-* 4, low -9.5
	records := []domain.MatchRecord{
		record("low", base, 1, "TOP", 1, 8, 2, false),
		record("tie-old", base, 1, "TOP", 10, 2, 4, true),
		record("tie-new", base.Add(time.Hour), 1, "TOP", 10, 2, 4, true),
		record("best", base, 2, "MIDDLE", 15, 1, 10, true),
		record("tie-id-b", base, 3, "BOTTOM", 4, 0, 0, true),
		record("tie-id-a", base, 3, "BOTTOM", 4, 0, 0, true),
		record("mid", base, 3, "BOTTOM", 6, 2, 4, true),
	}

	got := Highlights(records, 5)
	want := []string{"best", "tie-new", "tie-old", "mid", "tie-id-a"}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].MatchID != id {
			t.Errorf("highlight %d = %s, want %s", i, got[i].MatchID, id)
		}
	}
	if got[0].Score != 21 {
		t.Errorf("best score = %v, want 21", got[0].Score)
	}
}

func TestConsistency(t *testing.T) {
	monthOf := func(m int, games, wins int) []domain.MatchRecord {
		var out []domain.MatchRecord
		for i := range games {
			ts := time.Date(2025, time.Month(m), 1+i, 12, 0, 0, 0, time.UTC)
			out = append(out, record(fmt.Sprintf("m%d_%d", m, i), ts, 1, "TOP", 1, 1, 1, i < wins))
		}
		return out
	}

	tests := []struct {
		name    string
		records []domain.MatchRecord
		want    float64
	}{
		{"single month is neutral", monthOf(1, 10, 5), 100},
		{"identical months", append(monthOf(1, 10, 5), monthOf(2, 10, 5)...), 100},
		{"sparse months ignored", append(monthOf(1, 10, 5), monthOf(2, 2, 0)...), 100},
		// rates 0.2 and 0.6: mean 0.4, stddev 0.2, cv 0.5
		{"varying months", append(monthOf(1, 10, 2), monthOf(2, 10, 6)...), 50},
		// rates 0 and 1: cv 1, capped
		{"extreme swing", append(monthOf(1, 5, 0), monthOf(2, 5, 5)...), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewEngine(Options{}).Aggregate(tt.records)
			if p.ConsistencyScore != tt.want {
				t.Errorf("ConsistencyScore = %v, want %v", p.ConsistencyScore, tt.want)
			}
		})
	}
}

func TestImprovementTrend(t *testing.T) {
	month := func(m time.Month, wins int) []domain.MatchRecord {
		var out []domain.MatchRecord
		for i := range 10 {
			ts := time.Date(2025, m, 1+i, 12, 0, 0, 0, time.UTC)
			out = append(out, record(fmt.Sprintf("%d_%d", m, i), ts, 1, "TOP", 1, 1, 1, i < wins))
		}
		return out
	}

	tests := []struct {
		name    string
		records []domain.MatchRecord
		want    float64
	}{
		{"flat", append(month(1, 5), month(2, 5)...), 0},
		{"rising", append(append(month(1, 3), month(2, 4)...), month(3, 5)...), 1},
		{"falling", append(month(1, 6), month(2, 5)...), -1},
		// +20 points over a two month gap: slope 10 per month
		{"gap uses calendar index", append(month(1, 3), month(3, 5)...), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewEngine(Options{}).Aggregate(tt.records)
			if p.ImprovementTrend != tt.want {
				t.Errorf("ImprovementTrend = %v, want %v", p.ImprovementTrend, tt.want)
			}
		})
	}
}

func TestBehavior(t *testing.T) {
	records := []domain.MatchRecord{
		record("1", base, 1, "TOP", 1, 1, 1, true),
		record("2", base.Add(1*time.Hour), 1, "TOP", 1, 1, 1, true),
		record("3", base.Add(2*time.Hour), 2, "TOP", 1, 1, 1, false),
		record("4", base.Add(3*time.Hour), 2, "TOP", 1, 1, 1, false),
		record("5", base.Add(4*time.Hour), 3, "TOP", 1, 1, 1, false),
		record("6", base.Add(5*time.Hour), 3, "TOP", 1, 1, 1, true),
	}

	b := NewEngine(Options{}).Aggregate(records).Behavior
	if b == nil {
		t.Fatal("expected behavior signals")
	}
	if b.LongestWinStreak != 2 || b.LongestLossStreak != 3 {
		t.Errorf("streaks = %d/%d, want 2/3", b.LongestWinStreak, b.LongestLossStreak)
	}
	if b.ChampionPoolSize != 3 {
		t.Errorf("ChampionPoolSize = %d, want 3", b.ChampionPoolSize)
	}
	if b.AvgGameMinutes != 30 || b.TotalMinutesPlayed != 180 {
		t.Errorf("minutes = %v avg / %v total", b.AvgGameMinutes, b.TotalMinutesPlayed)
	}
	if b.PeakMonth != "2025-01" {
		t.Errorf("PeakMonth = %s, want 2025-01", b.PeakMonth)
	}
}

func TestKDAFloorsDeaths(t *testing.T) {
	if got := KDA(5, 0, 5); got != 10 {
		t.Errorf("KDA(5,0,5) = %v, want 10", got)
	}
	if got := WinRate(0, 0); got != 0 {
		t.Errorf("WinRate(0,0) = %v, want 0", got)
	}
}
