package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// Call is a request received by the fake backend.
type Call struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// ExecFunc answers an execute-sql request with a status and a JSON body.
type ExecFunc func(dbName, sql string) (int, any)

// FakeBackend is an in-memory db-manager and sync service on httptest.
type FakeBackend struct {
	Server *httptest.Server

	mu sync.Mutex

	// Databases is returned by the databases endpoint, in order.
	Databases []string
	// Tables maps a database to raw descriptors: strings or objects.
	Tables map[string][]any
	// TableStatus forces an HTTP status for a database's table listing.
	TableStatus map[string]int
	// Structures maps "db.table" to a structure payload.
	Structures map[string]any
	// Rows maps "db.table" to its rows.
	Rows map[string][]map[string]any
	// Exec overrides the default execute-sql behavior.
	Exec ExecFunc
	// PendingCounts is consumed by count(*) queries against us_user; the
	// last value repeats.
	PendingCounts []int64
	// BatchNo is returned by the user sync endpoint.
	BatchNo string
	// JobDelay delays every sync job endpoint.
	JobDelay time.Duration
	// JobStatus forces an HTTP status for every sync job endpoint.
	JobStatus int
	// SFE payloads.
	SFEDepartments []map[string]any
	SFEEmployees   []map[string]any

	calls []Call
}

// NewFakeBackend starts a fake backend with two databases.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()

	f := &FakeBackend{
		Databases: []string{"crm", "sales"},
		Tables: map[string][]any{
			"crm":   {"users", map[string]any{"table_name": "us_user", "table_rows": 42}},
			"sales": {map[string]any{"table_name": "orders", "table_rows": "1200"}, "users"},
		},
		TableStatus: map[string]int{},
		Structures: map[string]any{
			"crm.users": []map[string]any{
				{"column_name": "id", "data_type": "bigint"},
				{"column_name": "name", "data_type": "varchar"},
			},
		},
		Rows: map[string][]map[string]any{
			"crm.users": {
				{"id": 1, "name": "alice"},
				{"id": 2, "name": "bob"},
				{"id": 3, "name": "carol"},
			},
		},
		BatchNo:        "batch-001",
		SFEDepartments: []map[string]any{{"id": "d1", "name": "Finance"}},
		SFEEmployees:   []map[string]any{{"id": "e1", "name": "Dana"}, {"id": "e2", "name": "Eli"}},
	}

	r := chi.NewRouter()
	r.Use(f.record)

	r.Route("/db-manager/api", func(r chi.Router) {
		r.Get("/databases", f.handleDatabases)
		r.Get("/tables", f.handleTables)
		r.Get("/table-structure", f.handleStructure)
		r.Get("/table-data", f.handleTableData)
		r.Delete("/delete-data", f.handleDelete)
		r.Post("/execute-sql", f.handleExecute)
	})

	r.Put("/admin/aad_users/manual_sync", f.job(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r.Route("/admin/user-sync", func(r chi.Router) {
		r.Get("/sfe/fetch", f.job(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"departments": f.SFEDepartments, "employees": f.SFEEmployees})
		}))
		r.Post("/sfe/fetch/execute", f.job(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]int{"success": 3, "failed": 1})
		}))
		r.Get("/sfe/departments", f.job(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.SFEDepartments)
		}))
		r.Get("/sfe/employees", f.job(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.SFEEmployees)
		}))
		r.Post("/{corpID}", f.job(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			batch := f.BatchNo
			f.mu.Unlock()
			_, _ = io.WriteString(w, batch)
		}))
	})
	r.Get("/syncDept", f.job(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r.Post("/initUser", f.job(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake backend.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// Set runs fn with the backend locked, for changing fixtures mid-test.
func (f *FakeBackend) Set(fn func(f *FakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Calls returns the requests received so far.
func (f *FakeBackend) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the requests received for a path.
func (f *FakeBackend) CallsTo(path string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		f.mu.Lock()
		f.calls = append(f.calls, Call{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})
		f.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (f *FakeBackend) job(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delay, status := f.JobDelay, f.JobStatus
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"message": "job failed"})
			return
		}
		h(w, r)
	}
}

func (f *FakeBackend) handleDatabases(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.Databases)
}

func (f *FakeBackend) handleTables(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("dbName")

	f.mu.Lock()
	defer f.mu.Unlock()
	if status := f.TableStatus[db]; status != 0 {
		writeJSON(w, status, map[string]string{"message": "tables unavailable"})
		return
	}
	tables, ok := f.Tables[db]
	if !ok {
		tables = []any{}
	}
	writeJSON(w, http.StatusOK, tables)
}

func (f *FakeBackend) handleStructure(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("dbName") + "." + r.URL.Query().Get("tableName")

	f.mu.Lock()
	defer f.mu.Unlock()
	structure, ok := f.Structures[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "table not found"})
		return
	}
	writeJSON(w, http.StatusOK, structure)
}

func (f *FakeBackend) handleTableData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("dbName") + "." + q.Get("tableName")
	page := atoiDefault(q.Get("page"), 1)
	size := atoiDefault(q.Get("size"), 20)

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.Rows[key]
	start := (page - 1) * size
	if start > len(rows) {
		start = len(rows)
	}
	end := start + size
	if end > len(rows) {
		end = len(rows)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":    rows[start:end],
		"columns": []string{"id", "name"},
		"total":   len(rows),
		"page":    page,
		"size":    size,
	})
}

func (f *FakeBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("dbName") + "." + q.Get("tableName")
	id := q.Get("id")

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.Rows[key]
	for i, row := range rows {
		if toString(row["id"]) == id {
			f.Rows[key] = append(rows[:i:i], rows[i+1:]...)
			w.WriteHeader(http.StatusOK)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "row not found"})
}

func (f *FakeBackend) handleExecute(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	db, sql := r.PostForm.Get("dbName"), r.PostForm.Get("sql")

	f.mu.Lock()
	exec := f.Exec
	f.mu.Unlock()
	if exec != nil {
		status, body := exec(db, sql)
		writeJSON(w, status, body)
		return
	}

	lower := strings.ToLower(sql)
	switch {
	case strings.Contains(lower, "count(*)") && strings.Contains(lower, "us_user"):
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]any{{"cnt": f.nextPending()}}})
	case strings.Contains(lower, "syntax error"):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "You have an error in your SQL syntax"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"columns": []string{"id", "name"},
			"data":    []map[string]any{{"id": 1, "name": "alice"}},
		})
	}
}

func (f *FakeBackend) nextPending() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.PendingCounts) == 0 {
		return 0
	}
	n := f.PendingCounts[0]
	if len(f.PendingCounts) > 1 {
		f.PendingCounts = f.PendingCounts[1:]
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func atoiDefault(s string, def int) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return def
	}
	return n
}

func toString(v any) string {
	data, _ := json.Marshal(v)
	return strings.Trim(string(data), `"`)
}
