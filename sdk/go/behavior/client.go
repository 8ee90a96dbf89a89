// Package behavior is a thin Go client for the behaviord REST API.
package behavior

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
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with behaviord.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Event mirrors a recorded symbol.
type Event struct {
	Name         string          `json:"name"`
	Position     uint32          `json:"position"`
	Actor        common.Address  `json:"actor"`
	Nonce        uint64          `json:"nonce"`
	Sequence     uint32          `json:"sequence"`
	Result       string          `json:"result,omitempty"`
	Value        string          `json:"value,omitempty"`
	Counterparty *common.Address `json:"counterparty,omitempty"`
	FromDeployer bool            `json:"from_deployer,omitempty"`
	Metadata     hexutil.Bytes   `json:"metadata,omitempty"`
	Timestamp    uint64          `json:"timestamp"`
}

// Agents summarises the recorder.
type Agents struct {
	AgentCount  int              `json:"agent_count"`
	TotalEvents int              `json:"total_events"`
	Agents      []common.Address `json:"agents"`
}

// AgentPattern selects an actor's events by type and outcome.
type AgentPattern struct {
	EventType    string `json:"event_type"`
	ResultFilter string `json:"result_filter,omitempty"`
	MinCount     int    `json:"min_count"`
	MaxCount     int    `json:"max_count,omitempty"`
	TimeWindow   uint64 `json:"time_window,omitempty"`
}

// ProofRequest asks for a bundle over an actor's history. Exactly one of
// Pattern and Agent must be set.
type ProofRequest struct {
	Actor   common.Address `json:"actor"`
	Pattern string         `json:"pattern,omitempty"`
	Agent   *AgentPattern  `json:"agent,omitempty"`
	Now     int64          `json:"now,omitempty"`
}

// Bundle keeps the server's encoding in Raw so it can be passed back for
// verification or validation untouched.
type Bundle struct {
	ID     string          `json:"id"`
	Scheme string          `json:"scheme"`
	Root   common.Hash     `json:"root"`
	Events []Event         `json:"events"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the summary fields and retains the raw bytes.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	type plain Bundle
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = Bundle(p)
	b.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Verification is the verdict for one bundle.
type Verification struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ExportRequest supplies the block context for on-chain export.
type ExportRequest struct {
	ChainID      uint64         `json:"chain_id"`
	BlockNumber  uint64         `json:"block_number"`
	BeaconRoot   common.Hash    `json:"beacon_root"`
	Timestamp    uint64         `json:"timestamp"`
	ReceiptsRoot common.Hash    `json:"receipts_root"`
	Signature    hexutil.Bytes  `json:"signature,omitempty"`
	Signer       common.Address `json:"signer"`
}

// Export holds the flattened proof and the calldata for the verifier contract.
type Export struct {
	Proof    json.RawMessage `json:"proof"`
	Calldata hexutil.Bytes   `json:"calldata"`
}

// Log is the subset of an EVM log the dictionary reads.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
	Index   uint           `json:"log_index"`
	TxHash  common.Hash    `json:"tx_hash"`
}

// ParsedPattern describes a pattern accepted by the server.
type ParsedPattern struct {
	Pattern  string            `json:"pattern"`
	Steps    []json.RawMessage `json:"steps"`
	MinCount int               `json:"min_count"`
}

// ValidationSubmission is a request for asynchronous scoring of a bundle.
type ValidationSubmission struct {
	RequestID common.Hash    `json:"request_id"`
	AgentID   common.Address `json:"agent_id"`
	ProofData hexutil.Bytes  `json:"proof_data"`
	Timestamp uint64         `json:"timestamp"`
}

// ValidationResponse is the score assigned to a request.
type ValidationResponse struct {
	RequestID common.Hash `json:"request_id"`
	Score     uint32      `json:"score"`
	Metadata  string      `json:"metadata"`
}

// ValidationRequest is the server-side state of a submission.
type ValidationRequest struct {
	ID         common.Hash         `json:"request_id"`
	AgentID    common.Address      `json:"agent_id"`
	Timestamp  uint64              `json:"timestamp"`
	Status     string              `json:"status"`
	Attempts   int                 `json:"attempts"`
	MaxRetries int                 `json:"max_retries"`
	LastError  string              `json:"last_error,omitempty"`
	ErrorCode  string              `json:"error_code,omitempty"`
	Response   *ValidationResponse `json:"response,omitempty"`
	CreatedAt  int64               `json:"created_at"`
	UpdatedAt  int64               `json:"updated_at"`
}

// Done reports whether the request reached a terminal state.
func (r ValidationRequest) Done() bool {
	return r.Status == "succeeded" || (r.Status == "failed" && r.Attempts >= r.MaxRetries)
}

// ValidationStats aggregates requests by status.
type ValidationStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Valid     int `json:"valid"`
}

// ValidationFilter narrows ListValidations.
type ValidationFilter struct {
	Statuses  []string
	Agent     *common.Address
	Limit     int
	Offset    int
	Ascending bool
}

// APIError is returned for every non-2xx response. Expected and Actual are
// set for causal ordering rejections.
type APIError struct {
	StatusCode int     `json:"-"`
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Expected   *uint64 `json:"expected,omitempty"`
	Actual     *uint64 `json:"actual,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("behavior api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("behavior api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// RecordEvent appends one event to the actor's history.
func (c *Client) RecordEvent(ctx context.Context, event Event) (Event, error) {
	var out Event
	err := c.send(ctx, http.MethodPost, "/api/v1/events", nil, event, &out)
	return out, err
}

// ClearEvents drops every recorded event.
func (c *Client) ClearEvents(ctx context.Context) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/events", nil, nil, nil)
}

// Agents returns recorder totals.
func (c *Client) Agents(ctx context.Context) (Agents, error) {
	var out Agents
	err := c.send(ctx, http.MethodGet, "/api/v1/agents", nil, nil, &out)
	return out, err
}

// History returns the recorded events of one actor.
func (c *Client) History(ctx context.Context, actor common.Address) ([]Event, error) {
	var out struct {
		Events []Event `json:"events"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/agents/"+actor.Hex()+"/events", nil, nil, &out)
	return out.Events, err
}

// LastEvent returns the most recent event of one actor.
func (c *Client) LastEvent(ctx context.Context, actor common.Address) (Event, error) {
	var out Event
	err := c.send(ctx, http.MethodGet, "/api/v1/agents/"+actor.Hex()+"/last", nil, nil, &out)
	return out, err
}

// GenerateProof builds a bundle over an actor's causal history.
func (c *Client) GenerateProof(ctx context.Context, req ProofRequest) (*Bundle, error) {
	var out Bundle
	if err := c.send(ctx, http.MethodPost, "/api/v1/proofs", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BlockProof decodes logs from one block and proves pattern over them.
func (c *Client) BlockProof(ctx context.Context, logs []Log, pattern string) (*Bundle, error) {
	var out Bundle
	body := map[string]any{"logs": logs, "pattern": pattern}
	if err := c.send(ctx, http.MethodPost, "/api/v1/blocks/proofs", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProof fetches a cached bundle.
func (c *Client) GetProof(ctx context.Context, id string) (*Bundle, error) {
	var out Bundle
	if err := c.send(ctx, http.MethodGet, "/api/v1/proofs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyProof checks an encoded bundle.
func (c *Client) VerifyProof(ctx context.Context, bundle json.RawMessage) (Verification, error) {
	var out Verification
	err := c.send(ctx, http.MethodPost, "/api/v1/proofs/verify", nil, map[string]any{"bundle": bundle}, &out)
	return out, err
}

// VerifyBatch checks several bundles and returns one verdict per input.
func (c *Client) VerifyBatch(ctx context.Context, bundles []json.RawMessage) ([]bool, error) {
	var out struct {
		Results []bool `json:"results"`
	}
	err := c.send(ctx, http.MethodPost, "/api/v1/proofs/verify/batch", nil, map[string]any{"bundles": bundles}, &out)
	return out.Results, err
}

// ExportProof flattens a cached causal bundle for on-chain verification.
func (c *Client) ExportProof(ctx context.Context, id string, req ExportRequest) (Export, error) {
	var out Export
	err := c.send(ctx, http.MethodPost, "/api/v1/proofs/"+url.PathEscape(id)+"/export", nil, req, &out)
	return out, err
}

// DecodeLogs maps logs to symbols with the server's dictionary.
func (c *Client) DecodeLogs(ctx context.Context, logs []Log) ([]Event, error) {
	var out struct {
		Symbols []Event `json:"symbols"`
	}
	err := c.send(ctx, http.MethodPost, "/api/v1/logs/symbols", nil, map[string]any{"logs": logs}, &out)
	return out.Symbols, err
}

// ParsePattern validates a pattern without generating a proof.
func (c *Client) ParsePattern(ctx context.Context, pattern string) (ParsedPattern, error) {
	var out ParsedPattern
	err := c.send(ctx, http.MethodPost, "/api/v1/patterns/parse", nil, map[string]string{"pattern": pattern}, &out)
	return out, err
}

// SubmitValidation queues a bundle for scoring.
func (c *Client) SubmitValidation(ctx context.Context, sub ValidationSubmission) (ValidationRequest, error) {
	var out ValidationRequest
	err := c.send(ctx, http.MethodPost, "/api/v1/validations", nil, sub, &out)
	return out, err
}

// GetValidation returns the state of one request.
func (c *Client) GetValidation(ctx context.Context, id common.Hash) (ValidationRequest, error) {
	var out ValidationRequest
	err := c.send(ctx, http.MethodGet, "/api/v1/validations/"+id.Hex(), nil, nil, &out)
	return out, err
}

// ListValidations returns requests matching filter, newest first unless
// Ascending is set.
func (c *Client) ListValidations(ctx context.Context, filter ValidationFilter) ([]ValidationRequest, error) {
	var out struct {
		Requests []ValidationRequest `json:"requests"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/validations", filter.query(), nil, &out)
	return out.Requests, err
}

// ValidationStats aggregates requests matching filter.
func (c *Client) ValidationStats(ctx context.Context, filter ValidationFilter) (ValidationStats, error) {
	var out ValidationStats
	err := c.send(ctx, http.MethodGet, "/api/v1/validations/stats", filter.query(), nil, &out)
	return out, err
}

// WaitForValidation polls until the request is terminal or ctx ends.
func (c *Client) WaitForValidation(ctx context.Context, id common.Hash, interval time.Duration) (ValidationRequest, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		req, err := c.GetValidation(ctx, id)
		if err != nil {
			return ValidationRequest{}, err
		}
		if req.Done() {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return ValidationRequest{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f ValidationFilter) query() url.Values {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Agent != nil {
		q.Set("agent", f.Agent.Hex())
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Ascending {
		q.Set("order", "asc")
	}
	return q
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
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

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
