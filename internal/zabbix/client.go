package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"dutybot/internal/clock"
	"dutybot/internal/config"
	"dutybot/internal/domain"
)

// Acknowledge action bits of the event.acknowledge API.
const (
	actionAcknowledge = 2
	actionAddMessage  = 4
)

// Client is a JSON-RPC 2.0 client for the Zabbix API.
// Params: endpoint, credentials, tag filter, and explicit HTTP timeout.
// Returns: typed access to problems, events, hosts, and acknowledgment.
type Client struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
	clk        clock.Clock
	logger     *slog.Logger
	tagFilter  []tagFilter

	mu    sync.Mutex
	token string
	reqID int
}

type tagFilter struct {
	Tag      string `json:"tag"`
	Value    string `json:"value,omitempty"`
	Operator int    `json:"operator"`
}

// NewClient creates a Zabbix API client.
// Params: backend settings, clock, and logger.
// Returns: initialized client; no network calls happen here.
func NewClient(settings config.ZabbixConfig, clk clock.Clock, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  settings.URL,
		user:     settings.User,
		password: settings.Password,
		httpClient: &http.Client{
			Timeout: time.Duration(settings.TimeoutSec) * time.Second,
		},
		clk:       clk,
		logger:    logger,
		tagFilter: parseTagFilter(settings.Tag),
	}
}

// parseTagFilter converts configured "tag: value" strings into API filter
// entries. A bare tag without value matches on existence.
// Params: raw is the configured tag list.
// Returns: filter entries for the tags request parameter.
func parseTagFilter(raw []string) []tagFilter {
	filters := make([]tagFilter, 0, len(raw))
	for _, item := range raw {
		tag, value, found := strings.Cut(item, ":")
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if !found || strings.TrimSpace(value) == "" {
			// operator 2 = exists
			filters = append(filters, tagFilter{Tag: tag, Operator: 2})
			continue
		}
		// operator 0 = equals
		filters = append(filters, tagFilter{Tag: tag, Value: strings.TrimSpace(value), Operator: 0})
	}
	return filters
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Error renders the backend fault with its diagnostic data.
// Params: none.
// Returns: combined message/data string.
func (e *rpcError) Error() string {
	if e.Data == "" {
		return fmt.Sprintf("zabbix api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("zabbix api error %d: %s (%s)", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Login authenticates and caches the session token.
// Params: ctx bounds the HTTP call.
// Returns: error when credentials are rejected or transport fails.
func (c *Client) Login(ctx context.Context) error {
	var token string
	err := c.callUnauthenticated(ctx, "user.login", map[string]string{
		"username": c.user,
		"password": c.password,
	}, &token)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	c.logger.Info("zabbix session established", "url", c.baseURL)
	return nil
}

// call invokes one authenticated API method, logging in on demand and
// retrying once after a session expiry.
// Params: method name, params payload, and result destination.
// Returns: decode or backend error.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	err := c.post(ctx, rpcRequest{Method: method, Params: params, Auth: token}, result)
	if err == nil {
		return nil
	}

	if !isSessionExpired(err) {
		return err
	}

	if err := c.Login(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	token = c.token
	c.mu.Unlock()
	return c.post(ctx, rpcRequest{Method: method, Params: params, Auth: token}, result)
}

// callUnauthenticated invokes one method without a session token.
// Params: method name, params payload, and result destination.
// Returns: decode or backend error.
func (c *Client) callUnauthenticated(ctx context.Context, method string, params, result any) error {
	return c.post(ctx, rpcRequest{Method: method, Params: params}, result)
}

// isSessionExpired recognizes the backend's stale-session fault.
// Params: err from a call attempt.
// Returns: true when a re-login should be attempted.
func isSessionExpired(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not authorised") ||
		strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "session terminated")
}

// post performs one JSON-RPC exchange.
// Params: prepared request envelope and result destination.
// Returns: transport, status, or API error.
func (c *Client) post(ctx context.Context, request rpcRequest, result any) error {
	request.JSONRPC = "2.0"
	c.mu.Lock()
	c.reqID++
	request.ID = c.reqID
	c.mu.Unlock()

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json-rpc")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", request.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s: unexpected status %d: %s", request.Method, resp.StatusCode, payload)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", request.Method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("call %s: %w", request.Method, envelope.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", request.Method, err)
	}
	return nil
}

// severities expands a minimum severity into the API's explicit list form.
// Params: min is the configured severity floor.
// Returns: ordinal list min..disaster.
func severities(min domain.Severity) []int {
	out := make([]int, 0, int(domain.SeverityDisaster)-int(min)+1)
	for level := min; level <= domain.SeverityDisaster; level++ {
		out = append(out, int(level))
	}
	return out
}

// UnacknowledgedProblems fetches active unacknowledged problems.
// Params: window bounds how far back to look; minSeverity is the floor.
// Returns: problems in backend order (eventid descending).
func (c *Client) UnacknowledgedProblems(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error) {
	return c.problems(ctx, window, minSeverity, boolPtr(false))
}

// Problems fetches recent problems regardless of acknowledgment.
// Params: window bounds how far back to look; minSeverity is the floor.
// Returns: problems in backend order.
func (c *Client) Problems(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error) {
	return c.problems(ctx, window, minSeverity, nil)
}

func boolPtr(v bool) *bool {
	return &v
}

func (c *Client) problems(ctx context.Context, window time.Duration, minSeverity domain.Severity, acknowledged *bool) ([]domain.Problem, error) {
	params := map[string]any{
		"output":             "extend",
		"selectAcknowledges": "extend",
		"selectTags":         "extend",
		"selectHosts":        []string{"hostid", "host", "name"},
		"recent":             true,
		"sortfield":          []string{"eventid"},
		"sortorder":          "DESC",
		"time_from":          c.clk.Now().Add(-window).Unix(),
		"severities":         severities(minSeverity),
	}
	if acknowledged != nil {
		params["acknowledged"] = *acknowledged
	}
	if len(c.tagFilter) > 0 {
		// evaltype 2 = OR across tag conditions
		params["evaltype"] = 2
		params["tags"] = c.tagFilter
	}

	var rows []problemRow
	if err := c.call(ctx, "problem.get", params, &rows); err != nil {
		return nil, fmt.Errorf("fetch problems: %w", err)
	}
	return decodeProblems(rows, c.logger), nil
}

// AcknowledgedEvents fetches acknowledged problem events.
// Params: window bounds how far back to look; minSeverity is the floor.
// Returns: acknowledged events, severity filtered, backend order.
func (c *Client) AcknowledgedEvents(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error) {
	params := map[string]any{
		"output":             "extend",
		"selectAcknowledges": "extend",
		"selectHosts":        []string{"hostid", "host", "name"},
		"acknowledged":       true,
		"sortfield":          []string{"eventid"},
		"sortorder":          "DESC",
		"time_from":          c.clk.Now().Add(-window).Unix(),
	}

	var rows []problemRow
	if err := c.call(ctx, "event.get", params, &rows); err != nil {
		return nil, fmt.Errorf("fetch acknowledged events: %w", err)
	}

	// event.get has no severity filter in this form; apply the floor here.
	problems := decodeProblems(rows, c.logger)
	filtered := problems[:0]
	for _, problem := range problems {
		if problem.Severity >= minSeverity {
			filtered = append(filtered, problem)
		}
	}
	return filtered, nil
}

// HostName resolves the display name of one host.
// Params: hostID from a problem record.
// Returns: visible host name, or the id itself when lookup fails.
func (c *Client) HostName(ctx context.Context, hostID string) (string, error) {
	if hostID == "" {
		return "", fmt.Errorf("empty host id")
	}
	params := map[string]any{
		"output":  []string{"hostid", "host", "name"},
		"hostids": []string{hostID},
	}

	var rows []hostRow
	if err := c.call(ctx, "host.get", params, &rows); err != nil {
		return "", fmt.Errorf("fetch host %s: %w", hostID, err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("host %s not found", hostID)
	}
	if rows[0].Name != "" {
		return rows[0].Name, nil
	}
	return rows[0].Host, nil
}

// Comments returns the ordered acknowledges of one event.
// Params: eventID of the problem.
// Returns: comment entries oldest first.
func (c *Client) Comments(ctx context.Context, eventID string) ([]domain.Comment, error) {
	params := map[string]any{
		"output":             "extend",
		"selectAcknowledges": "extend",
		"eventids":           eventID,
		"sortfield":          []string{"eventid"},
		"sortorder":          "DESC",
	}

	var rows []problemRow
	if err := c.call(ctx, "problem.get", params, &rows); err != nil {
		return nil, fmt.Errorf("fetch comments for %s: %w", eventID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return decodeComments(rows[0].Acknowledges), nil
}

// Acknowledge marks one event acknowledged with an audit message.
// An already-acknowledged event is success; a supplied message is still
// attached as a comment-only write.
// Params: eventID and audit message text.
// Returns: backend error; never retried.
func (c *Client) Acknowledge(ctx context.Context, eventID, message string) error {
	var rows []struct {
		EventID      string `json:"eventid"`
		Acknowledged string `json:"acknowledged"`
	}
	err := c.call(ctx, "event.get", map[string]any{
		"output":   []string{"eventid", "acknowledged"},
		"eventids": eventID,
	}, &rows)
	if err != nil {
		return fmt.Errorf("check event %s: %w", eventID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("event %s not found", eventID)
	}

	action := actionAcknowledge
	if message != "" {
		action |= actionAddMessage
	}
	if rows[0].Acknowledged == "1" {
		if message == "" {
			c.logger.Info("event already acknowledged", "event_id", eventID)
			return nil
		}
		action = actionAddMessage
	}

	params := map[string]any{
		"eventids": []string{eventID},
		"action":   action,
	}
	if message != "" {
		params["message"] = message
	}
	if err := c.call(ctx, "event.acknowledge", params, nil); err != nil {
		return fmt.Errorf("acknowledge event %s: %w", eventID, err)
	}
	return nil
}
