// Package backend is the HTTP client for the db-manager and sync services.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default paging for table data.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

const maxErrorBody = 64 << 10

// Services holds the base URL of each backend service.
type Services struct {
	DBManager string
	AADSyncer string
	UserSync  string
	Jiali     string
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// ErrorMessage returns the message to show a user for err.
func ErrorMessage(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		return httpErr.Message
	}
	return err.Error()
}

// Client talks to the backend services.
type Client struct {
	services Services
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a backend client.
func NewClient(services Services, opts ...Option) *Client {
	c := &Client{
		services: services,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDatabases returns the database names in backend order.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, c.services.DBManager, "/db-manager/api/databases", nil, &names); err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	return names, nil
}

// ListTables returns the normalized table descriptors of a database.
func (c *Client) ListTables(ctx context.Context, dbName string) ([]TableDescriptor, error) {
	q := url.Values{"dbName": {dbName}}
	var tables []TableDescriptor
	if err := c.getJSON(ctx, c.services.DBManager, "/db-manager/api/tables", q, &tables); err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", dbName, err)
	}
	out := tables[:0]
	for _, t := range tables {
		if t.Name != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// TableStructure returns the column records describing a table.
func (c *Client) TableStructure(ctx context.Context, dbName, tableName string) (*Result, error) {
	q := url.Values{"dbName": {dbName}, "tableName": {tableName}}
	var raw json.RawMessage
	if err := c.getJSON(ctx, c.services.DBManager, "/db-manager/api/table-structure", q, &raw); err != nil {
		return nil, fmt.Errorf("failed to get structure of %s.%s: %w", dbName, tableName, err)
	}

	var set rowSet
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &set.Data); err != nil {
			return nil, fmt.Errorf("failed to decode structure: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &set); err != nil {
		return nil, fmt.Errorf("failed to decode structure: %w", err)
	}
	return set.decode()
}

// TableData returns one page of table rows. Zero page or size use the defaults.
func (c *Client) TableData(ctx context.Context, dbName, tableName string, page, size int) (*Page, error) {
	if page <= 0 {
		page = DefaultPage
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	q := url.Values{
		"dbName":    {dbName},
		"tableName": {tableName},
		"page":      {strconv.Itoa(page)},
		"size":      {strconv.Itoa(size)},
	}

	var set rowSet
	if err := c.getJSON(ctx, c.services.DBManager, "/db-manager/api/table-data", q, &set); err != nil {
		return nil, fmt.Errorf("failed to get data of %s.%s: %w", dbName, tableName, err)
	}
	result, err := set.decode()
	if err != nil {
		return nil, err
	}

	p := &Page{Columns: result.Columns, Rows: result.Rows, Page: page, Size: size}
	if n, err := set.Total.Int64(); err == nil {
		p.Total = n
	} else {
		p.Total = int64(len(p.Rows))
	}
	if n, err := set.Page.Int64(); err == nil && n > 0 {
		p.Page = int(n)
	}
	if n, err := set.Size.Int64(); err == nil && n > 0 {
		p.Size = int(n)
	}
	return p, nil
}

// DeleteRow deletes the row with the given id.
func (c *Client) DeleteRow(ctx context.Context, dbName, tableName, id string) error {
	q := url.Values{"dbName": {dbName}, "tableName": {tableName}, "id": {id}}
	if err := c.do(ctx, http.MethodDelete, c.services.DBManager, "/db-manager/api/delete-data", q, nil, "", nil); err != nil {
		return fmt.Errorf("failed to delete %s.%s id=%s: %w", dbName, tableName, id, err)
	}
	return nil
}

// ExecuteSQL runs a statement against a database.
// A failed statement is returned as *HTTPError carrying the backend message.
func (c *Client) ExecuteSQL(ctx context.Context, dbName, sql string) (*Result, error) {
	form := url.Values{"dbName": {dbName}, "sql": {sql}}
	var set rowSet
	err := c.do(ctx, http.MethodPost, c.services.DBManager, "/db-manager/api/execute-sql", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &set)
	if err != nil {
		return nil, err
	}
	return set.decode()
}

// ManualSyncAAD triggers the AAD user sync.
func (c *Client) ManualSyncAAD(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, c.services.AADSyncer, "/admin/aad_users/manual_sync", nil, nil, "", nil)
}

// StartUserSync runs the user sync for a corp and returns the batch number.
// An empty aadIDs syncs every user of the corp.
func (c *Client) StartUserSync(ctx context.Context, corpID string, aadIDs []string) (string, error) {
	var body io.Reader
	if len(aadIDs) > 0 {
		data, err := json.Marshal(aadIDs)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(data)
	}

	var batch bytes.Buffer
	path := "/admin/user-sync/" + url.PathEscape(strings.TrimSpace(corpID))
	if err := c.do(ctx, http.MethodPost, c.services.UserSync, path, nil, body, "application/json", &batch); err != nil {
		return "", err
	}
	return strings.TrimSpace(batch.String()), nil
}

// SyncDepartments triggers the department sync.
func (c *Client) SyncDepartments(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.services.Jiali, "/syncDept", nil, nil, "", nil)
}

// InitUsers initializes the given users.
func (c *Client) InitUsers(ctx context.Context, aadIDs []string) error {
	data, err := json.Marshal(aadIDs)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.services.Jiali, "/initUser", nil, bytes.NewReader(data), "application/json", nil)
}

// SFEFetch returns the departments and employees currently held by the SFE sync.
func (c *Client) SFEFetch(ctx context.Context) (*SFEData, error) {
	var data SFEData
	if err := c.getJSON(ctx, c.services.UserSync, "/admin/user-sync/sfe/fetch", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// SFEExecuteFetch triggers the SFE fetch task.
func (c *Client) SFEExecuteFetch(ctx context.Context) (*SFEExecuteResult, error) {
	var result SFEExecuteResult
	if err := c.do(ctx, http.MethodPost, c.services.UserSync, "/admin/user-sync/sfe/fetch/execute", nil, nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SFEDepartments lists SFE departments.
func (c *Client) SFEDepartments(ctx context.Context) ([]Row, error) {
	var rows []Row
	if err := c.getJSON(ctx, c.services.UserSync, "/admin/user-sync/sfe/departments", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SFEEmployees lists SFE employees.
func (c *Client) SFEEmployees(ctx context.Context) ([]Row, error) {
	var rows []Row
	if err := c.getJSON(ctx, c.services.UserSync, "/admin/user-sync/sfe/employees", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) getJSON(ctx context.Context, base, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, base, path, q, nil, "", out)
}

// do sends a request. out may be nil, a *bytes.Buffer for raw text, or a JSON target.
func (c *Client) do(ctx context.Context, method, base, path string, q url.Values, body io.Reader, contentType string, out any) error {
	u := strings.TrimRight(base, "/") + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", "method", method, "path", path, "error", err)
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request", "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Message: errorMessage(data)}
	}

	switch dst := out.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
		return nil
	}
}

// errorMessage extracts {"message": ...} from an error body, else the trimmed text.
func errorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
