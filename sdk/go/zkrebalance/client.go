package zkrebalance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Run statuses reported by the API.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Client wraps the HTTP interactions with the ZKRebalance Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// RunParams describes one rebalancing request: balances and prices as decimal
// strings plus the allocation bounds or a named policy profile.
type RunParams struct {
	OldBalances     []string `json:"old_balances"`
	NewBalances     []string `json:"new_balances"`
	Prices          []string `json:"prices"`
	MinPct          int      `json:"min_pct"`
	MaxPct          int      `json:"max_pct"`
	Policy          string   `json:"policy,omitempty"`
	ProviderDomain  string   `json:"provider_domain,omitempty"`
	ValidatorDomain string   `json:"validator_domain,omitempty"`
	ClientDomain    string   `json:"client_domain,omitempty"`
	Comment         string   `json:"comment,omitempty"`
}

// RunSubmission is the payload accepted by the run submission endpoint. A
// caller-provided ID makes the submission idempotent.
type RunSubmission struct {
	ID     string    `json:"id,omitempty"`
	Params RunParams `json:"params"`
}

// Report mirrors the validation pipeline verdict.
type Report struct {
	StructureScore   int  `json:"structure_score"`
	CryptoScore      int  `json:"cryptographic_score"`
	LogicScore       int  `json:"logic_score"`
	OverallScore     int  `json:"overall_score"`
	ProofValid       bool `json:"proof_valid"`
	MeetsConstraints bool `json:"meets_constraints"`
}

// FeedbackRecord is one piece of client feedback for a provider.
type FeedbackRecord struct {
	ClientID     uint64 `json:"client_id"`
	ServerID     uint64 `json:"server_id"`
	Score        int    `json:"score"`
	Comment      string `json:"comment,omitempty"`
	ClientDomain string `json:"client_domain,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// ReputationSummary aggregates the feedback a provider has received.
type ReputationSummary struct {
	ServerID     uint64          `json:"server_id"`
	Count        int             `json:"feedback_count"`
	AverageScore float64         `json:"average_score"`
	LastRecord   *FeedbackRecord `json:"last_feedback,omitempty"`
}

// StepEvent is one entry of a run's step trail.
type StepEvent struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	At     int64  `json:"at"`
}

// RunResult carries the outputs of a completed (or partially completed) run.
type RunResult struct {
	ProviderID     uint64            `json:"provider_id,omitempty"`
	ValidatorID    uint64            `json:"validator_id,omitempty"`
	ClientID       uint64            `json:"client_id,omitempty"`
	DataHash       string            `json:"data_hash,omitempty"`
	Report         Report            `json:"report"`
	ValidationTx   string            `json:"validation_tx,omitempty"`
	ResponseTx     string            `json:"response_tx,omitempty"`
	FeedbackAuthTx string            `json:"feedback_auth_tx,omitempty"`
	QualityScore   int               `json:"quality_score"`
	Reputation     ReputationSummary `json:"reputation"`
	Steps          []StepEvent       `json:"steps"`
}

// Run is the API view of one workflow run.
type Run struct {
	ID          string     `json:"id"`
	Params      RunParams  `json:"params"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Result      *RunResult `json:"result,omitempty"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
}

// Terminal reports whether the run has reached a final state.
func (r Run) Terminal() bool {
	return r.Status == RunSucceeded || r.Status == RunFailed
}

// RunStats aggregates run counts by status.
type RunStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ReputationReport is the response of the reputation endpoint.
type ReputationReport struct {
	Summary ReputationSummary `json:"summary"`
	History []FeedbackRecord  `json:"history,omitempty"`
}

// ListRunsOptions narrows the run listing.
type ListRunsOptions struct {
	Limit     int
	Offset    int
	Status    string
	HasResult *bool
	Query     string
	Order     string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("zkrebalance api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("zkrebalance api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ZKRebalance Chain API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken stores the static bearer token attached to subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SubmitRun enqueues a rebalancing run and returns its pending record.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	var run Run
	if err := c.post(ctx, "/api/v1/runs", submission, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches run details by identifier.
func (c *Client) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns runs matching the given filters, most recent first.
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) ([]Run, error) {
	values := url.Values{}
	if opts.Limit > 0 {
		values.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		values.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Status != "" {
		values.Set("status", opts.Status)
	}
	if opts.HasResult != nil {
		values.Set("has_result", strconv.FormatBool(*opts.HasResult))
	}
	if opts.Query != "" {
		values.Set("q", opts.Query)
	}
	if opts.Order != "" {
		values.Set("order", opts.Order)
	}

	endpoint := "/api/v1/runs"
	if encoded := values.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var runs []Run
	if err := c.get(ctx, endpoint, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunStats returns aggregate run counts.
func (c *Client) RunStats(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if err := c.get(ctx, "/api/v1/runs/stats", &stats); err != nil {
		return RunStats{}, err
	}
	return stats, nil
}

// WaitForRun polls the run until it reaches a terminal state or the context
// is cancelled. A non-positive interval defaults to one second.
func (c *Client) WaitForRun(ctx context.Context, runID string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return Run{}, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reputation fetches the feedback summary for a provider; historyLimit > 0
// additionally requests the most recent feedback records.
func (c *Client) Reputation(ctx context.Context, serverID uint64, historyLimit int) (ReputationReport, error) {
	endpoint := "/api/v1/reputation/" + strconv.FormatUint(serverID, 10)
	if historyLimit > 0 {
		endpoint += "?history=" + strconv.Itoa(historyLimit)
	}
	var report ReputationReport
	if err := c.get(ctx, endpoint, &report); err != nil {
		return ReputationReport{}, err
	}
	return report, nil
}

// Health probes the health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
