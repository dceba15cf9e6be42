package server

import (
	"context"
	"net/http"
	"strings"

	"summoner-story/internal/domain"

	"connectrpc.com/connect"
)

// RecapClient calls a remote recap server.
type RecapClient struct {
	submit    *connect.Client[SubmitRecapRequest, SubmitRecapResponse]
	status    *connect.Client[GetStatusRequest, GetStatusResponse]
	recap     *connect.Client[GetRecapRequest, GetRecapResponse]
	snapshots *connect.Client[ListSnapshotsRequest, ListSnapshotsResponse]
}

func NewRecapClient(httpClient connect.HTTPClient, baseURL, token string) *RecapClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts := []connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(NewTokenInterceptor(token)),
	}
	return &RecapClient{
		submit:    connect.NewClient[SubmitRecapRequest, SubmitRecapResponse](httpClient, baseURL+SubmitRecapProcedure, opts...),
		status:    connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		recap:     connect.NewClient[GetRecapRequest, GetRecapResponse](httpClient, baseURL+GetRecapProcedure, opts...),
		snapshots: connect.NewClient[ListSnapshotsRequest, ListSnapshotsResponse](httpClient, baseURL+ListSnapshotsProcedure, opts...),
	}
}

// NewDefaultRecapClient uses http.DefaultClient.
func NewDefaultRecapClient(baseURL, token string) *RecapClient {
	return NewRecapClient(http.DefaultClient, baseURL, token)
}

func (c *RecapClient) Submit(ctx context.Context, req SubmitRecapRequest) (string, error) {
	resp, err := c.submit.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return "", fromConnectError(err)
	}
	return resp.Msg.JobID, nil
}

func (c *RecapClient) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&GetStatusRequest{JobID: jobID}))
	if err != nil {
		return domain.JobStatus{}, fromConnectError(err)
	}
	return resp.Msg.Status, nil
}

func (c *RecapClient) GetRecap(ctx context.Context, jobID string) (*GetRecapResponse, error) {
	resp, err := c.recap.CallUnary(ctx, connect.NewRequest(&GetRecapRequest{JobID: jobID}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg, nil
}

func (c *RecapClient) ListSnapshots(ctx context.Context, req ListSnapshotsRequest) (*ListSnapshotsResponse, error) {
	resp, err := c.snapshots.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg, nil
}
