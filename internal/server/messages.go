package server

import (
	"time"

	"summoner-story/internal/domain"
)

const RecapServicePath = "/summonerstory.v1.RecapService/"

const (
	SubmitRecapProcedure   = RecapServicePath + "SubmitRecap"
	GetStatusProcedure     = RecapServicePath + "GetStatus"
	GetRecapProcedure      = RecapServicePath + "GetRecap"
	ListSnapshotsProcedure = RecapServicePath + "ListSnapshots"
)

type SubmitRecapRequest struct {
	Handle   string `json:"handle"`
	Region   string `json:"region"`
	Template string `json:"template,omitempty"`
	Months   int    `json:"months,omitempty"`
	Queue    int    `json:"queue,omitempty"`
}

type SubmitRecapResponse struct {
	JobID string `json:"job_id"`
}

type GetStatusRequest struct {
	JobID string `json:"job_id"`
}

type GetStatusResponse struct {
	Status domain.JobStatus `json:"status"`
}

type GetRecapRequest struct {
	JobID string `json:"job_id"`
}

type GetRecapResponse struct {
	Status    domain.JobStatus          `json:"status"`
	Handle    string                    `json:"handle"`
	Region    string                    `json:"region"`
	Stats     *domain.StatisticsPayload `json:"stats,omitempty"`
	Narrative *domain.Narrative         `json:"narrative,omitempty"`
}

type ListSnapshotsRequest struct {
	Handle string `json:"handle"`
	Region string `json:"region"`
	Limit  int    `json:"limit,omitempty"`
}

type Snapshot struct {
	ID          string                   `json:"id"`
	JobID       string                   `json:"job_id"`
	WindowStart time.Time                `json:"window_start"`
	WindowEnd   time.Time                `json:"window_end"`
	TotalGames  int                      `json:"total_games"`
	Partial     bool                     `json:"partial"`
	Fingerprint string                   `json:"fingerprint"`
	Payload     domain.StatisticsPayload `json:"payload"`
	CreatedAt   time.Time                `json:"created_at"`
}

type ListSnapshotsResponse struct {
	Puuid     string     `json:"puuid"`
	Snapshots []Snapshot `json:"snapshots"`
}
