package server

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"summoner-story/internal/api"
	"summoner-story/internal/apperror"
	"summoner-story/internal/auth"
	"summoner-story/internal/constants"
	"summoner-story/internal/domain"
	"summoner-story/internal/repository"
	"summoner-story/internal/service"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

const (
	defaultSnapshotLimit = 10
	maxSnapshotLimit     = 50
)

// Recaps is the job surface the server exposes.
type Recaps interface {
	Submit(ctx context.Context, session *auth.Session, req service.RecapRequest) (string, error)
	GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error)
	GetRecap(ctx context.Context, jobID string) (*service.Recap, error)
}

type RecapServer struct {
	recaps    Recaps
	players   *repository.PlayerRepository
	snapshots *repository.SnapshotRepository
	verifier  *auth.Verifier
	logger    zerolog.Logger
}

func NewRecapServer(recaps Recaps, players *repository.PlayerRepository, snapshots *repository.SnapshotRepository, verifier *auth.Verifier, logger zerolog.Logger) *RecapServer {
	return &RecapServer{
		recaps:    recaps,
		players:   players,
		snapshots: snapshots,
		verifier:  verifier,
		logger:    logger.With().Str("component", "recap_server").Logger(),
	}
}

// Handler mounts every procedure under RecapServicePath.
func (s *RecapServer) Handler() (string, http.Handler) {
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewAuthInterceptor(s.verifier)),
	}

	mux := http.NewServeMux()
	mux.Handle(SubmitRecapProcedure, connect.NewUnaryHandler(SubmitRecapProcedure, s.SubmitRecap, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(GetRecapProcedure, connect.NewUnaryHandler(GetRecapProcedure, s.GetRecap, opts...))
	mux.Handle(ListSnapshotsProcedure, connect.NewUnaryHandler(ListSnapshotsProcedure, s.ListSnapshots, opts...))
	return RecapServicePath, mux
}

func (s *RecapServer) SubmitRecap(ctx context.Context, req *connect.Request[SubmitRecapRequest]) (*connect.Response[SubmitRecapResponse], error) {
	session, _ := auth.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	jobID, err := s.recaps.Submit(ctx, session, service.RecapRequest{
		Handle:   req.Msg.Handle,
		Region:   req.Msg.Region,
		Template: req.Msg.Template,
		Months:   req.Msg.Months,
		Queue:    req.Msg.Queue,
	})
	if err != nil {
		return nil, s.fail(ctx, "SubmitRecap", err)
	}
	return connect.NewResponse(&SubmitRecapResponse{JobID: jobID}), nil
}

func (s *RecapServer) GetStatus(ctx context.Context, req *connect.Request[GetStatusRequest]) (*connect.Response[GetStatusResponse], error) {
	if req.Msg.JobID == "" {
		return nil, toConnectError(apperror.New(apperror.KindInvalidRequest, "job_id is required"))
	}
	status, err := s.recaps.GetStatus(ctx, req.Msg.JobID)
	if err != nil {
		return nil, s.fail(ctx, "GetStatus", err)
	}
	return connect.NewResponse(&GetStatusResponse{Status: status}), nil
}

func (s *RecapServer) GetRecap(ctx context.Context, req *connect.Request[GetRecapRequest]) (*connect.Response[GetRecapResponse], error) {
	if req.Msg.JobID == "" {
		return nil, toConnectError(apperror.New(apperror.KindInvalidRequest, "job_id is required"))
	}
	recap, err := s.recaps.GetRecap(ctx, req.Msg.JobID)
	if err != nil {
		return nil, s.fail(ctx, "GetRecap", err)
	}
	return connect.NewResponse(&GetRecapResponse{
		Status:    recap.Status,
		Handle:    recap.Handle,
		Region:    recap.Region,
		Stats:     recap.Stats,
		Narrative: recap.Narrative,
	}), nil
}

// ListSnapshots returns the stored statistics snapshots of a player, newest first. Only players that
// went through a recap before are known.
func (s *RecapServer) ListSnapshots(ctx context.Context, req *connect.Request[ListSnapshotsRequest]) (*connect.Response[ListSnapshotsResponse], error) {
	region, ok := api.NormalizeRegion(req.Msg.Region)
	if !ok {
		return nil, toConnectError(apperror.Newf(apperror.KindRegionInvalid, "unsupported region %q", req.Msg.Region))
	}
	gameName, tagLine, ok := api.ParseHandle(req.Msg.Handle, region)
	if !ok {
		return nil, toConnectError(apperror.Newf(apperror.KindInvalidRequest, "malformed handle %q", req.Msg.Handle))
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	player, err := s.players.GetByHandle(ctx, gameName, tagLine, region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, toConnectError(apperror.Newf(apperror.KindPlayerNotFound, "no recaps stored for %s#%s", gameName, tagLine))
	}
	if err != nil {
		return nil, s.fail(ctx, "ListSnapshots", apperror.Wrap(apperror.KindInternal, err, "failed to load player"))
	}

	limit := req.Msg.Limit
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	limit = min(limit, maxSnapshotLimit)

	stored, err := s.snapshots.ListByPuuid(ctx, player.Puuid, limit)
	if err != nil {
		return nil, s.fail(ctx, "ListSnapshots", apperror.Wrap(apperror.KindInternal, err, "failed to list snapshots"))
	}

	resp := &ListSnapshotsResponse{Puuid: player.Puuid, Snapshots: make([]Snapshot, 0, len(stored))}
	for _, snap := range stored {
		resp.Snapshots = append(resp.Snapshots, Snapshot{
			ID:          snap.ID,
			JobID:       snap.JobID,
			WindowStart: snap.Window.Start,
			WindowEnd:   snap.Window.End,
			TotalGames:  snap.TotalGames,
			Partial:     snap.Partial,
			Fingerprint: snap.Fingerprint,
			Payload:     snap.Payload,
			CreatedAt:   snap.CreatedAt,
		})
	}
	return connect.NewResponse(resp), nil
}

func (s *RecapServer) fail(ctx context.Context, procedure string, err error) *connect.Error {
	kind := apperror.KindOf(err)
	logger := s.loggerFrom(ctx)
	event := logger.Warn()
	if kind == apperror.KindInternal {
		event = logger.Error()
	}
	event.Err(err).
		Str("procedure", procedure).
		Str("kind", string(kind)).
		Msg("call failed")
	return toConnectError(err)
}

// loggerFrom prefers the request-scoped logger installed by middleware.RequestID.
func (s *RecapServer) loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
