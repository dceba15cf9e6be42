package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"summoner-story/internal/apperror"
	"summoner-story/internal/config"
	"summoner-story/internal/constants"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned for upstream 404s. It is terminal and never retried.
var ErrNotFound = errors.New("riot api: not found")

type RiotClient struct {
	apiKey   string
	baseURL  string
	client   *fasthttp.Client
	limiters []*rate.Limiter
	breaker  *Breaker
	retry    RetryPolicy
	sleep    Sleeper
	jitter   Jitter
	logger   zerolog.Logger

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

// RateLimitInfo mirrors the X-App-Rate-Limit* and X-Method-Rate-Limit* headers of the last response.
type RateLimitInfo struct {
	AppLimit    string `json:"app_limit"`
	AppCount    string `json:"app_count"`
	MethodLimit string `json:"method_limit"`
	MethodCount string `json:"method_count"`

	// seconds, only set on 429
	RetryAfter int `json:"retry_after"`

	UpdatedAt time.Time `json:"updated_at"`
}

type Option func(*RiotClient)

// WithBaseURL sends every request to baseURL instead of the regional riotgames.com hosts.
func WithBaseURL(baseURL string) Option {
	return func(c *RiotClient) { c.baseURL = baseURL }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *RiotClient) { c.retry = p }
}

func WithBreaker(b *Breaker) Option {
	return func(c *RiotClient) { c.breaker = b }
}

func WithSleeper(s Sleeper) Option {
	return func(c *RiotClient) { c.sleep = s }
}

func WithJitter(j Jitter) Option {
	return func(c *RiotClient) { c.jitter = j }
}

// WithLimiters replaces the client-side pacing; every limiter must grant a token per request.
func WithLimiters(limiters ...*rate.Limiter) Option {
	return func(c *RiotClient) { c.limiters = limiters }
}

func NewRiotClient(cfg *config.Config, logger zerolog.Logger) *RiotClient {
	var opts []Option
	if cfg.RiotBaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.RiotBaseURL))
	}
	return New(cfg.RiotAPIKey, logger, opts...)
}

func New(apiKey string, logger zerolog.Logger, opts ...Option) *RiotClient {
	logger = logger.With().Str("component", "riot_client").Logger()
	c := &RiotClient{
		apiKey: apiKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		limiters: []*rate.Limiter{
			rate.NewLimiter(rate.Limit(constants.UpstreamRatePerSecond), constants.UpstreamBurst),
			rate.NewLimiter(rate.Every(constants.UpstreamWindow/constants.UpstreamWindowRequests), constants.UpstreamWindowRequests),
		},
		breaker: NewBreaker(BreakerConfig{
			Window:    constants.BreakerWindow,
			MinCalls:  constants.BreakerMinCalls,
			ErrorRate: constants.BreakerErrorRate,
			Cooldown:  constants.BreakerCooldown,
		}, logger),
		retry: RetryPolicy{
			Attempts:  constants.RetryAttempts,
			BaseDelay: constants.RetryBaseDelay,
			MaxDelay:  constants.RetryMaxDelay,
		},
		sleep:  sleepContext,
		jitter: halfJitter,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Attempts < 1 {
		c.retry.Attempts = 1
	}
	return c
}

func (c *RiotClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *RiotClient) BreakerState() BreakerState {
	return c.breaker.State()
}

// PacingDelay is how long the default limiters take to grant calls tokens starting from full buckets.
func PacingDelay(calls int) time.Duration {
	window := time.Duration(max(calls-constants.UpstreamWindowRequests, 0)) *
		(constants.UpstreamWindow / constants.UpstreamWindowRequests)
	second := time.Duration(max(calls-constants.UpstreamBurst, 0)) *
		(time.Second / constants.UpstreamRatePerSecond)
	return max(window, second)
}

func (c *RiotClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if v := string(resp.Header.Peek("X-App-Rate-Limit")); v != "" {
		c.rateLimit.AppLimit = v
	}
	if v := string(resp.Header.Peek("X-App-Rate-Limit-Count")); v != "" {
		c.rateLimit.AppCount = v
	}
	if v := string(resp.Header.Peek("X-Method-Rate-Limit")); v != "" {
		c.rateLimit.MethodLimit = v
	}
	if v := string(resp.Header.Peek("X-Method-Rate-Limit-Count")); v != "" {
		c.rateLimit.MethodCount = v
	}
	c.rateLimit.RetryAfter = 0
	if v := string(resp.Header.Peek("Retry-After")); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			c.rateLimit.RetryAfter = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

func (c *RiotClient) host(route string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + route + ".api.riotgames.com"
}

func (c *RiotClient) GetAccountByRiotID(ctx context.Context, platform, gameName, tagLine string) (*AccountResponse, error) {
	u := fmt.Sprintf("%s/riot/account/v1/accounts/by-riot-id/%s/%s",
		c.host(accountRoute(platform)), url.PathEscape(gameName), url.PathEscape(tagLine))
	return doRequest[AccountResponse](ctx, c, u)
}

func (c *RiotClient) GetSummonerByPUUID(ctx context.Context, platform, puuid string) (*SummonerResponse, error) {
	u := fmt.Sprintf("%s/lol/summoner/v4/summoners/by-puuid/%s", c.host(platform), url.PathEscape(puuid))
	return doRequest[SummonerResponse](ctx, c, u)
}

func (c *RiotClient) GetMatchIDs(ctx context.Context, platform, puuid string, q MatchListQuery) ([]string, error) {
	params := url.Values{}
	params.Set("start", strconv.Itoa(q.Start))
	params.Set("count", strconv.Itoa(q.Count))
	if q.StartTime > 0 {
		params.Set("startTime", strconv.FormatInt(q.StartTime, 10))
	}
	if q.EndTime > 0 {
		params.Set("endTime", strconv.FormatInt(q.EndTime, 10))
	}
	if q.Queue > 0 {
		params.Set("queue", strconv.Itoa(q.Queue))
	}

	u := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids?%s",
		c.host(RegionalRoute(platform)), url.PathEscape(puuid), params.Encode())
	ids, err := doRequest[[]string](ctx, c, u)
	if err != nil {
		return nil, err
	}
	return *ids, nil
}

func (c *RiotClient) GetMatch(ctx context.Context, platform, matchID string) (*MatchResponse, error) {
	u := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.host(RegionalRoute(platform)), url.PathEscape(matchID))
	return doRequest[MatchResponse](ctx, c, u)
}

// doRequest issues a GET with pacing, the circuit breaker and bounded retries. 429, 5xx and
// transport errors are retried; exhausting retries on a 429 yields RateLimited, anything else
// ServiceUnavailable.
func doRequest[T any](ctx context.Context, client *RiotClient, u string) (*T, error) {
	var (
		lastErr     error
		rateLimited bool
	)

	for attempt := 0; attempt < client.retry.Attempts; attempt++ {
		// pace first so a long limiter wait never holds a half-open probe
		if err := client.pace(ctx); err != nil {
			return nil, err
		}
		done, err := client.breaker.Allow()
		if err != nil {
			client.logger.Warn().Str("url", u).Msg("circuit open, failing fast")
			return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "riot api unavailable")
		}

		var result T
		status, retryAfter, err := client.do(ctx, u, &result)
		switch {
		case err != nil && ctx.Err() != nil:
			done(false)
			return nil, ctx.Err()
		case errors.As(err, new(*apperror.Error)):
			done(true)
			return nil, err
		case err != nil:
			done(false)
			lastErr, rateLimited = err, false
		case status == fasthttp.StatusOK:
			done(true)
			return &result, nil
		case status == fasthttp.StatusNotFound:
			done(true)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
		case status == fasthttp.StatusTooManyRequests:
			done(false)
			lastErr, rateLimited = fmt.Errorf("riot api: status %d", status), true
		case status >= fasthttp.StatusInternalServerError:
			done(false)
			lastErr, rateLimited = fmt.Errorf("riot api: status %d", status), false
		default:
			done(true)
			return nil, apperror.Newf(apperror.KindInternal, "riot api rejected request with status %d", status)
		}

		if attempt == client.retry.Attempts-1 {
			break
		}

		delay := client.retry.Backoff(attempt)
		delay += client.jitter(delay)
		if retryAfter > delay {
			delay = retryAfter
		}
		client.logger.Warn().
			Err(lastErr).
			Str("url", u).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying upstream request")

		if err := client.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if rateLimited {
		info := client.GetRateLimitInfo()
		client.logger.Error().
			Str("url", u).
			Str("app_count", info.AppCount).
			Str("method_count", info.MethodCount).
			Msg("rate limit retries exhausted")
		return nil, apperror.Wrap(apperror.KindRateLimited, lastErr, "riot api rate limit exceeded")
	}
	client.logger.Error().Err(lastErr).Str("url", u).Msg("upstream retries exhausted")
	return nil, apperror.Wrap(apperror.KindServiceUnavailable, lastErr, "riot api unavailable")
}

// pace waits on every limiter. A limiter that cannot grant a token before the deadline means the
// request budget is spent for this caller, reported as RateLimited.
func (c *RiotClient) pace(ctx context.Context) error {
	for _, l := range c.limiters {
		if err := l.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("waiting for rate limiter: %w", ctxErr)
			}
			c.logger.Warn().Err(err).Msg("request budget cannot be met before the deadline")
			return apperror.Wrap(apperror.KindRateLimited, err, "riot api request budget exhausted before the deadline")
		}
	}
	return nil
}

// do performs one attempt and decodes a 200 body into out.
func (c *RiotClient) do(ctx context.Context, u string, out any) (int, time.Duration, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("X-Riot-Token", c.apiKey)

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, constants.ExternalAPITimeout)
	}
	if err != nil {
		return 0, 0, err
	}

	c.updateRateLimit(resp)

	status := resp.StatusCode()
	retryAfter := parseRetryAfter(string(resp.Header.Peek("Retry-After")))
	if status != fasthttp.StatusOK {
		return status, retryAfter, nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return status, 0, apperror.Wrap(apperror.KindInternal, err, "malformed riot api response")
	}
	return status, 0, nil
}
