// Package insight derives the narrative for a statistics payload and avoids asking the narrative
// service twice for the same input.
package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"summoner-story/internal/domain"
	"summoner-story/internal/stats"

	"github.com/goccy/go-json"
)

// Fingerprint is the hex SHA-256 of the payload's canonical JSON. Collections are re-sorted into
// their canonical order first, so payloads that differ only in insertion order hash the same.
func Fingerprint(payload domain.StatisticsPayload) (string, error) {
	canonical := canonicalize(payload)
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize works on a copy; the caller's payload is never reordered.
func canonicalize(p domain.StatisticsPayload) domain.StatisticsPayload {
	p.ChampionStats = slices.Clone(p.ChampionStats)
	p.RoleStats = slices.Clone(p.RoleStats)
	p.MonthlyTrends = slices.Clone(p.MonthlyTrends)
	p.Highlights = slices.Clone(p.Highlights)

	if p.ChampionStats == nil {
		p.ChampionStats = []domain.ChampionStat{}
	}
	if p.RoleStats == nil {
		p.RoleStats = []domain.RoleStat{}
	}
	if p.MonthlyTrends == nil {
		p.MonthlyTrends = []domain.MonthlyTrend{}
	}
	if p.Highlights == nil {
		p.Highlights = []domain.HighlightMatch{}
	}
	for i := range p.Highlights {
		p.Highlights[i].Timestamp = p.Highlights[i].Timestamp.UTC()
	}

	stats.SortChampionStats(p.ChampionStats)
	stats.SortRoleStats(p.RoleStats)
	stats.SortMonthlyTrends(p.MonthlyTrends)
	stats.SortHighlights(p.Highlights)

	if p.Behavior != nil {
		b := *p.Behavior
		p.Behavior = &b
	}
	return p
}
