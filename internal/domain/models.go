package domain

import (
	"time"
)

type JobState string

const (
	JobPending    JobState = "pending"
	JobFetching   JobState = "fetching"
	JobProcessing JobState = "processing"
	JobGenerating JobState = "generating"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

var jobStateOrder = map[JobState]int{
	JobPending:    0,
	JobFetching:   1,
	JobProcessing: 2,
	JobGenerating: 3,
	JobCompleted:  4,
	JobFailed:     4,
}

func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobState) Valid() bool {
	_, ok := jobStateOrder[s]
	return ok
}

// Rank orders states along the pipeline; both terminals share the last rank.
func (s JobState) Rank() int {
	return jobStateOrder[s]
}

// CanTransition reports whether a job in s may move to next. Staying in the same non-terminal state
// is allowed and only updates progress.
func (s JobState) CanTransition(next JobState) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	if next == s || next == JobFailed {
		return true
	}
	return jobStateOrder[next] == jobStateOrder[s]+1
}

type JobError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Job struct {
	ID           string
	SessionID    string
	PlayerHandle string
	Region       string
	State        JobState
	Progress     int
	Stats        *StatisticsPayload
	Narrative    *Narrative
	Error        *JobError
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

// JobStatus is what pollers see.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	State     JobState  `json:"state"`
	Progress  int       `json:"progress"`
	Error     *JobError `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) Status() JobStatus {
	return JobStatus{
		JobID:     j.ID,
		State:     j.State,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

type PlayerProfile struct {
	Puuid         string
	GameName      string
	TagLine       string
	Region        string
	SummonerLevel int
	ProfileIconID int
	LastFetchAt   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p PlayerProfile) Handle() string {
	return p.GameName + "#" + p.TagLine
}

type MatchExtras struct {
	DamageToChampions int    `json:"damage_to_champions"`
	GoldEarned        int    `json:"gold_earned"`
	CreepScore        int    `json:"creep_score"`
	VisionScore       int    `json:"vision_score"`
	Items             [7]int `json:"items"`
}

type MatchRecord struct {
	MatchID      string        `json:"match_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	QueueID      int           `json:"queue_id"`
	ChampionID   int           `json:"champion_id"`
	ChampionName string        `json:"champion_name"`
	Role         string        `json:"role"`
	Kills        int           `json:"kills"`
	Deaths       int           `json:"deaths"`
	Assists      int           `json:"assists"`
	Win          bool          `json:"win"`
	Extras       MatchExtras   `json:"extras"`
}

// MatchHistory is the result of one ingestion run. Partial is set when pagination stopped on an
// upstream failure after some records were already collected.
type MatchHistory struct {
	Profile      PlayerProfile
	Records      []MatchRecord
	Partial      bool
	PartialCause error
	Truncated    bool
}

type Window struct {
	Start time.Time
	End   time.Time
}

type Narrative struct {
	Text         string    `json:"text"`
	Archetype    string    `json:"archetype"`
	Achievements []string  `json:"achievements"`
	Template     string    `json:"template"`
	Fingerprint  string    `json:"fingerprint"`
	Cached       bool      `json:"cached"`
	GeneratedAt  time.Time `json:"generated_at"`
}
