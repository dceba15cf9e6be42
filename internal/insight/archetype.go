package insight

import (
	"fmt"

	"summoner-story/internal/domain"
)

const (
	ArchetypeDominantForce        = "dominant force"
	ArchetypeSkilledStrategist    = "skilled strategist"
	ArchetypeRisingStar           = "rising star"
	ArchetypeReliableTeammate     = "reliable teammate"
	ArchetypeDeterminedCompetitor = "determined competitor"
)

// Archetype picks the label the narrative is framed around. Rules are checked in order.
func Archetype(p domain.StatisticsPayload) string {
	switch {
	case p.AvgKDA >= 2.0 && p.WinRate >= 60:
		return ArchetypeDominantForce
	case p.AvgKDA >= 1.5 && p.WinRate >= 55:
		return ArchetypeSkilledStrategist
	case p.ImprovementTrend > 0.1:
		return ArchetypeRisingStar
	case p.ConsistencyScore >= 80:
		return ArchetypeReliableTeammate
	default:
		return ArchetypeDeterminedCompetitor
	}
}

// Achievements lists the badges a payload earns, at most one per category.
func Achievements(p domain.StatisticsPayload) []string {
	out := []string{}

	switch {
	case p.WinRate >= 70:
		out = append(out, "Challenger Mindset - 70%+ Win Rate")
	case p.WinRate >= 60:
		out = append(out, "Diamond Performance - 60%+ Win Rate")
	case p.WinRate >= 55:
		out = append(out, "Gold Standard - 55%+ Win Rate")
	}

	switch {
	case p.AvgKDA >= 3.0:
		out = append(out, "KDA Warrior - 3.0+ Average KDA")
	case p.AvgKDA >= 2.0:
		out = append(out, "Precision Player - 2.0+ Average KDA")
	}

	switch {
	case p.TotalGames >= 500:
		out = append(out, "Dedicated Summoner - 500+ Games")
	case p.TotalGames >= 200:
		out = append(out, "Active Player - 200+ Games")
	}

	switch {
	case p.ImprovementTrend > 0.2:
		out = append(out, "Rising Star - Significant Improvement")
	case p.ImprovementTrend > 0.1:
		out = append(out, "Getting Better - Steady Improvement")
	}

	switch {
	case p.ConsistencyScore >= 85:
		out = append(out, "Mr. Reliable - 85%+ Consistency")
	case p.ConsistencyScore >= 75:
		out = append(out, "Steady Performer - 75%+ Consistency")
	}

	if c, ok := p.Champion(p.Featured.MostPlayed); ok && c.Games >= 50 {
		out = append(out, fmt.Sprintf("%s Main - 50+ Games", c.ChampionName))
	}

	if p.Behavior != nil && p.Behavior.LongestWinStreak >= 5 {
		out = append(out, fmt.Sprintf("On Fire - %d Game Win Streak", p.Behavior.LongestWinStreak))
	}
	return out
}
