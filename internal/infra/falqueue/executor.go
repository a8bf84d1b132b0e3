// Package falqueue submits generation jobs to the FAL queue service and
// tracks them to completion. Submission and tracking are separate: Invoke
// returns the queue receipt immediately, Watch and Subscribe follow the job.
package falqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"falforge/internal/domain"
	"falforge/internal/infra/telemetry"
)

const (
	DefaultBaseURL      = "https://queue.fal.run"
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = time.Second
	DefaultRateLimit    = 8.0
	DefaultRateBurst    = 16
)

const maxErrorBody = 512

// Options configures the queue client.
type Options struct {
	// BaseURL is the queue service root, used when a tool's spec does not
	// declare its own server.
	BaseURL string
	// Credential is the FAL API key sent as "Authorization: Key <credential>".
	Credential   string
	HTTPClient   *http.Client
	PollInterval time.Duration
	RateLimit    float64
	RateBurst    int
	Logger       *zap.Logger
	Metrics      domain.Metrics
}

// Client talks to the generation queue.
type Client struct {
	baseURL      string
	credential   string
	httpClient   *http.Client
	pollInterval time.Duration
	limiter      *rate.Limiter
	logger       *zap.Logger
	metrics      domain.Metrics
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = DefaultRateBurst
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		credential:   opts.Credential,
		httpClient:   opts.HTTPClient,
		pollInterval: opts.PollInterval,
		limiter:      rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		logger:       opts.Logger.Named("falqueue"),
		metrics:      opts.Metrics,
	}
}

// Target locates the queue endpoint for one model. Zero fields fall back to
// the client default base URL and the conventional /<endpointID> path.
type Target struct {
	EndpointID string
	BaseURL    string
	Path       string
}

func (t Target) url(fallbackBase string) string {
	base := t.BaseURL
	if base == "" {
		base = fallbackBase
	}
	path := t.Path
	if path == "" {
		path = "/" + t.EndpointID
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(base, "/") + path
}

// queueStatus is the queue service's receipt/status payload.
type queueStatus struct {
	RequestID     string `json:"request_id"`
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position"`
	StatusURL     string `json:"status_url"`
	ResponseURL   string `json:"response_url"`
}

func (s queueStatus) state() domain.QueueState {
	return domain.QueueState(s.Status)
}

// Invoke submits args to the endpoint's queue and returns the submission
// receipt. It never waits for the job to run; use Watch or Subscribe for
// that.
func (c *Client) Invoke(ctx context.Context, target Target, args map[string]any) (domain.ExecutionResult, error) {
	started := time.Now()
	result, err := c.submit(ctx, target, args)
	outcome := domain.OutcomeOK
	if err != nil {
		outcome = domain.OutcomeError
	}
	c.metrics.ObserveQueueSubmit(outcome, time.Since(started))
	return result, err
}

func (c *Client) submit(ctx context.Context, target Target, args map[string]any) (domain.ExecutionResult, error) {
	if c.credential == "" {
		return domain.ExecutionResult{}, domain.ErrCredentialMissing
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ExecutionResult{}, err
	}

	body, err := json.Marshal(args)
	if err != nil {
		return domain.ExecutionResult{}, domain.E(domain.CodeInvalidArgument, "falqueue.submit", "encode arguments", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url(c.baseURL), bytes.NewReader(body))
	if err != nil {
		return domain.ExecutionResult{}, domain.E(domain.CodeInternal, "falqueue.submit", "build request", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ExecutionResult{}, domain.E(domain.CodeUnavailable, "falqueue.submit", "queue request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ExecutionResult{}, domain.Upstream("falqueue.submit", resp.StatusCode, readBodyPrefix(resp.Body))
	}

	var status queueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return domain.ExecutionResult{}, domain.E(domain.CodeInternal, "falqueue.submit", "decode queue receipt", err)
	}

	c.logger.Debug("job submitted",
		zap.String("endpoint", target.EndpointID),
		zap.String("request_id", status.RequestID),
		zap.String("state", status.Status))

	return domain.ExecutionResult{
		Status:        domain.ExecutionSubmitted,
		EndpointID:    target.EndpointID,
		RequestID:     status.RequestID,
		QueueState:    status.state(),
		QueuePosition: status.QueuePosition,
		StatusURL:     status.StatusURL,
		ResponseURL:   status.ResponseURL,
	}, nil
}

// Status polls the job's queue state once and returns the receipt updated
// with the latest state and position.
func (c *Client) Status(ctx context.Context, receipt domain.ExecutionResult) (domain.ExecutionResult, error) {
	if receipt.StatusURL == "" {
		return domain.ExecutionResult{}, domain.E(domain.CodeInvalidArgument, "falqueue.status", "receipt has no status URL", nil)
	}
	status, err := c.pollStatus(ctx, receipt.StatusURL)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	out := receipt
	out.QueueState = status.state()
	out.QueuePosition = status.QueuePosition
	if status.ResponseURL != "" {
		out.ResponseURL = status.ResponseURL
	}
	return out, nil
}

func (c *Client) pollStatus(ctx context.Context, statusURL string) (queueStatus, error) {
	var status queueStatus
	if err := c.getJSON(ctx, "falqueue.status", statusURL, &status); err != nil {
		return queueStatus{}, err
	}
	c.metrics.ObserveQueuePoll(status.state())
	return status, nil
}

// Response fetches the final job payload once the queue reports completion.
func (c *Client) Response(ctx context.Context, responseURL string) (map[string]any, error) {
	var payload map[string]any
	if err := c.getJSON(ctx, "falqueue.response", responseURL, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	if c.credential == "" {
		return domain.ErrCredentialMissing
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return domain.E(domain.CodeInternal, op, "build request", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.E(domain.CodeUnavailable, op, "queue request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Upstream(op, resp.StatusCode, readBodyPrefix(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.E(domain.CodeInternal, op, "decode response", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Key "+c.credential)
}

func readBodyPrefix(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
