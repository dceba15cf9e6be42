package domain

import "time"

// StatisticsPayload is the aggregated recap input shared with the narrative service and the UI.
// Field names and order are part of the wire contract.
type StatisticsPayload struct {
	TotalGames       int     `json:"total_games"`
	TotalWins        int     `json:"total_wins"`
	TotalLosses      int     `json:"total_losses"`
	WinRate          float64 `json:"win_rate"`
	TotalKills       int     `json:"total_kills"`
	TotalDeaths      int     `json:"total_deaths"`
	TotalAssists     int     `json:"total_assists"`
	AvgKills         float64 `json:"avg_kills"`
	AvgDeaths        float64 `json:"avg_deaths"`
	AvgAssists       float64 `json:"avg_assists"`
	AvgKDA           float64 `json:"avg_kda"`
	ConsistencyScore float64 `json:"consistency_score"`
	ImprovementTrend float64 `json:"improvement_trend"`

	ChampionStats []ChampionStat    `json:"champion_stats"`
	RoleStats     []RoleStat        `json:"role_stats"`
	MonthlyTrends []MonthlyTrend    `json:"monthly_trends"`
	Highlights    []HighlightMatch  `json:"highlights"`
	Featured      FeaturedChampions `json:"featured"`

	Behavior *BehavioralSignals `json:"behavior,omitempty"`
}

type ChampionStat struct {
	ChampionID   int     `json:"champion_id"`
	ChampionName string  `json:"champion_name"`
	Games        int     `json:"games"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	Kills        int     `json:"kills"`
	Deaths       int     `json:"deaths"`
	Assists      int     `json:"assists"`
	AvgKDA       float64 `json:"avg_kda"`
	TotalDamage  int     `json:"total_damage"`
	TotalGold    int     `json:"total_gold"`
	TotalCreeps  int     `json:"total_creeps"`
}

type RoleStat struct {
	Role    string  `json:"role"`
	Games   int     `json:"games"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	AvgKDA  float64 `json:"avg_kda"`
}

type MonthlyTrend struct {
	Month   string  `json:"month"` // YYYY-MM, UTC
	Year    int     `json:"year"`
	Games   int     `json:"games"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
	Kills   int     `json:"kills"`
	Deaths  int     `json:"deaths"`
	Assists int     `json:"assists"`
	AvgKDA  float64 `json:"avg_kda"`
}

type HighlightMatch struct {
	MatchID      string    `json:"match_id"`
	Timestamp    time.Time `json:"timestamp"`
	ChampionID   int       `json:"champion_id"`
	ChampionName string    `json:"champion_name"`
	Role         string    `json:"role"`
	Kills        int       `json:"kills"`
	Deaths       int       `json:"deaths"`
	Assists      int       `json:"assists"`
	Win          bool      `json:"win"`
	Score        float64   `json:"score"`
}

// FeaturedChampions names standout champions by id; zero means none.
type FeaturedChampions struct {
	MostPlayed     int `json:"most_played"`
	HighestWinRate int `json:"highest_win_rate"`
	BestKDA        int `json:"best_kda"`
}

// BehavioralSignals is the optional analytics extension. It is nil for an empty history.
type BehavioralSignals struct {
	LongestWinStreak   int     `json:"longest_win_streak"`
	LongestLossStreak  int     `json:"longest_loss_streak"`
	AvgGameMinutes     float64 `json:"avg_game_minutes"`
	ChampionPoolSize   int     `json:"champion_pool_size"`
	PeakMonth          string  `json:"peak_month"`
	TotalMinutesPlayed float64 `json:"total_minutes_played"`
}

// Champion looks up a champion entry by id.
func (p *StatisticsPayload) Champion(id int) (ChampionStat, bool) {
	for _, c := range p.ChampionStats {
		if c.ChampionID == id {
			return c, true
		}
	}
	return ChampionStat{}, false
}
