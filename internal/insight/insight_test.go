package insight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"summoner-story/internal/api"
	"summoner-story/internal/apperror"
	"summoner-story/internal/domain"
	"summoner-story/internal/stats"

	"github.com/rs/zerolog"
)

func samplePayload() domain.StatisticsPayload {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var records []domain.MatchRecord
	for i := range 12 {
		champ := 103
		name := "Ahri"
		if i%3 == 0 {
			champ, name = 157, "Yasuo"
		}
		records = append(records, domain.MatchRecord{
			MatchID:      "NA1_" + string(rune('A'+i)),
			Timestamp:    base.AddDate(0, i%4, i),
			Duration:     30 * time.Minute,
			ChampionID:   champ,
			ChampionName: name,
			Role:         []string{"MIDDLE", "TOP"}[i%2],
			Kills:        i % 7,
			Deaths:       i % 4,
			Assists:      i % 9,
			Win:          i%2 == 0,
		})
	}
	return stats.NewEngine(stats.Options{}).Aggregate(records)
}

func TestFingerprintIsStable(t *testing.T) {
	p := samplePayload()

	a, err := Fingerprint(p)
	if err != nil {
		t.Fatalf("Fingerprint() error: %v", err)
	}
	b, err := Fingerprint(p)
	if err != nil {
		t.Fatalf("Fingerprint() error: %v", err)
	}
	if a != b {
		t.Errorf("fingerprint changed between calls: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprintIgnoresCollectionOrder(t *testing.T) {
	p := samplePayload()
	want, _ := Fingerprint(p)

	shuffled := p
	shuffled.ChampionStats = reversed(p.ChampionStats)
	shuffled.RoleStats = reversed(p.RoleStats)
	shuffled.MonthlyTrends = reversed(p.MonthlyTrends)
	shuffled.Highlights = reversed(p.Highlights)

	got, _ := Fingerprint(shuffled)
	if got != want {
		t.Errorf("reordered payload fingerprint = %s, want %s", got, want)
	}

	if shuffled.MonthlyTrends[0].Month == p.MonthlyTrends[0].Month && len(p.MonthlyTrends) > 1 {
		t.Error("Fingerprint reordered the caller's slice")
	}
}

func TestFingerprintDetectsChanges(t *testing.T) {
	p := samplePayload()
	before, _ := Fingerprint(p)

	changed := p
	changed.ChampionStats = append([]domain.ChampionStat(nil), p.ChampionStats...)
	changed.ChampionStats[0].Kills++

	after, _ := Fingerprint(changed)
	if before == after {
		t.Error("different payloads produced the same fingerprint")
	}
}

func TestFingerprintEmptyPayload(t *testing.T) {
	empty := stats.NewEngine(stats.Options{}).Aggregate(nil)
	a, err := Fingerprint(empty)
	if err != nil {
		t.Fatalf("Fingerprint() error: %v", err)
	}
	b, _ := Fingerprint(domain.StatisticsPayload{})
	if a != b {
		t.Error("nil and empty collections should fingerprint the same")
	}
}

func reversed[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(8, 50*time.Millisecond)
	c.Put("k", domain.Narrative{Text: "hello"})

	if n, ok := c.Get("k"); !ok || n.Text != "hello" {
		t.Fatalf("Get() = %+v, %v; want cached narrative", n, ok)
	}
	time.Sleep(120 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("entry survived its TTL")
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2, time.Hour)
	c.Put("a", domain.Narrative{Text: "a"})
	c.Put("b", domain.Narrative{Text: "b"})
	c.Put("c", domain.Narrative{Text: "c"})

	if _, ok := c.Get("a"); ok {
		t.Error("least recently used entry was not evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestArchetype(t *testing.T) {
	tests := []struct {
		name string
		p    domain.StatisticsPayload
		want string
	}{
		{"dominant", domain.StatisticsPayload{AvgKDA: 2.5, WinRate: 62}, ArchetypeDominantForce},
		{"strategist", domain.StatisticsPayload{AvgKDA: 1.6, WinRate: 56}, ArchetypeSkilledStrategist},
		{"rising", domain.StatisticsPayload{AvgKDA: 1.0, WinRate: 48, ImprovementTrend: 0.3}, ArchetypeRisingStar},
		{"reliable", domain.StatisticsPayload{AvgKDA: 1.0, WinRate: 48, ConsistencyScore: 90}, ArchetypeReliableTeammate},
		{"default", domain.StatisticsPayload{AvgKDA: 1.0, WinRate: 40}, ArchetypeDeterminedCompetitor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Archetype(tt.p); got != tt.want {
				t.Errorf("Archetype() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAchievements(t *testing.T) {
	p := domain.StatisticsPayload{
		TotalGames:       250,
		WinRate:          61,
		AvgKDA:           3.2,
		ImprovementTrend: 0.15,
		ConsistencyScore: 88,
		ChampionStats:    []domain.ChampionStat{{ChampionID: 103, ChampionName: "Ahri", Games: 80}},
		Featured:         domain.FeaturedChampions{MostPlayed: 103},
	}
	want := []string{
		"Diamond Performance - 60%+ Win Rate",
		"KDA Warrior - 3.0+ Average KDA",
		"Active Player - 200+ Games",
		"Getting Better - Steady Improvement",
		"Mr. Reliable - 85%+ Consistency",
		"Ahri Main - 50+ Games",
	}
	got := Achievements(p)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Achievements() =\n%v\nwant\n%v", got, want)
	}

	if got := Achievements(domain.StatisticsPayload{}); len(got) != 0 {
		t.Errorf("empty payload earned %v", got)
	}
}

func TestBuiltinTemplatesRender(t *testing.T) {
	set, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("LoadTemplates() error: %v", err)
	}
	if set.Default() != "wrapped" {
		t.Errorf("Default() = %q, want wrapped", set.Default())
	}

	profile := domain.PlayerProfile{GameName: "Faker", TagLine: "KR1", Region: "kr"}
	data := NewPromptData(profile, samplePayload())
	for _, name := range set.Names() {
		t.Run(name, func(t *testing.T) {
			tmpl, ok := set.Lookup(name)
			if !ok {
				t.Fatalf("Lookup(%q) failed", name)
			}
			out, err := tmpl.Render(data)
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if !strings.Contains(out, "Faker") {
				t.Errorf("rendered prompt does not mention the player:\n%s", out)
			}
			if tmpl.MaxOutputTokens <= 0 {
				t.Errorf("MaxOutputTokens = %d", tmpl.MaxOutputTokens)
			}
		})
	}

	emptyData := NewPromptData(profile, stats.NewEngine(stats.Options{}).Aggregate(nil))
	for _, name := range set.Names() {
		tmpl, _ := set.Lookup(name)
		if _, err := tmpl.Render(emptyData); err != nil {
			t.Errorf("%s: rendering an empty payload failed: %v", name, err)
		}
	}
}

func TestParseTemplatesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "default: x\n"},
		{"bad syntax", "templates:\n  a:\n    prompt: \"{{.Player\"\n"},
		{"missing default", "default: nope\ntemplates:\n  a:\n    prompt: hi\n"},
		{"not yaml", "templates: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplates([]byte(tt.yaml)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ api.GenerationOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestNarrator(t *testing.T, gen Generator) *Narrator {
	t.Helper()
	set, err := LoadTemplates("")
	if err != nil {
		t.Fatalf("LoadTemplates() error: %v", err)
	}
	return NewNarrator(gen, NewCache(16, time.Hour), set, zerolog.Nop())
}

func TestNarratorCachesIdenticalPayloads(t *testing.T) {
	gen := &fakeGenerator{text: "What a year."}
	n := newTestNarrator(t, gen)
	profile := domain.PlayerProfile{GameName: "Faker", TagLine: "KR1", Region: "kr"}

	first, err := n.Narrate(context.Background(), profile, samplePayload(), "")
	if err != nil {
		t.Fatalf("Narrate() error: %v", err)
	}
	if first.Cached || first.Text != "What a year." || first.Template != "wrapped" {
		t.Errorf("first narrative = %+v", first)
	}

	second, err := n.Narrate(context.Background(), profile, samplePayload(), "wrapped")
	if err != nil {
		t.Fatalf("Narrate() error: %v", err)
	}
	if !second.Cached || second.Fingerprint != first.Fingerprint {
		t.Errorf("second narrative = %+v, want cache hit", second)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}

	if _, err := n.Narrate(context.Background(), profile, samplePayload(), "coach"); err != nil {
		t.Fatalf("Narrate(coach) error: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("another template should miss the cache: calls = %d", gen.calls)
	}
}

func TestNarratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection reset")}
	n := newTestNarrator(t, gen)

	_, err := n.Narrate(context.Background(), domain.PlayerProfile{GameName: "x", TagLine: "y"}, samplePayload(), "")
	if !apperror.IsKind(err, apperror.KindNarrativeGenerationFailed) {
		t.Errorf("error kind = %s, want NARRATIVE_GENERATION_FAILED", apperror.KindOf(err))
	}

	if _, err := n.Narrate(context.Background(), domain.PlayerProfile{}, samplePayload(), "sonnet"); err == nil {
		t.Error("unknown template should fail")
	}
	if n.HasTemplate("sonnet") || !n.HasTemplate("") {
		t.Error("HasTemplate() disagrees with the built-in set")
	}
}
