package history

import (
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Keys of the persisted query log blobs.
const (
	HistoryKey   = "sqlHistory"
	FavoritesKey = "sqlFavorites"
)

// MaxHistory is the number of history entries kept.
const MaxHistory = 100

// Entry is one past execution attempt.
type Entry struct {
	ID        int64     `json:"id"`
	SQL       string    `json:"sql"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// Favorite is a pinned statement.
type Favorite struct {
	ID        int64     `json:"id"`
	SQL       string    `json:"sql"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryLog holds a user's execution history and favorites.
//
// History is most-recent-first with at most one entry per trimmed SQL text
// and never more than MaxHistory entries. Every mutation rewrites the whole
// blob for its collection, in mutation order. Write failures are logged,
// never returned. A collection whose blob could not be read is not written
// until a later read of it succeeds.
type QueryLog struct {
	kv     KV
	logger *slog.Logger
	now    func() time.Time

	// persistMu is held for a whole mutation, storage I/O included.
	persistMu sync.Mutex
	unread    map[string]bool

	mu        sync.RWMutex
	history   []Entry
	favorites []Favorite
	lastID    int64
}

// Option configures a QueryLog.
type Option func(*QueryLog)

// WithLogger sets the logger used for load and write diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(q *QueryLog) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *QueryLog) {
		if now != nil {
			q.now = now
		}
	}
}

// NewQueryLog creates an empty query log persisted to kv. Call Load to read
// previously stored collections.
func NewQueryLog(kv KV, opts ...Option) *QueryLog {
	q := &QueryLog{
		kv:     kv,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load reads both collections from storage. A blob that is missing or cannot
// be parsed leaves its collection empty.
func (q *QueryLog) Load() {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	history, historyOK := readBlob[Entry](q, HistoryKey)
	favorites, favoritesOK := readBlob[Favorite](q, FavoritesKey)
	q.unread = map[string]bool{HistoryKey: !historyOK, FavoritesKey: !favoritesOK}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.history = normalizeHistory(history)
	q.favorites = normalizeFavorites(favorites)
	q.lastID = 0
	for _, e := range q.history {
		q.lastID = max(q.lastID, e.ID)
	}
	for _, f := range q.favorites {
		q.lastID = max(q.lastID, f.ID)
	}

	q.logger.Debug("query log loaded", "history", len(q.history), "favorites", len(q.favorites))
}

// readBlob decodes the collection stored under key. A missing or corrupt blob
// yields no items. ok is false only when storage could not be read.
func readBlob[T any](q *QueryLog, key string) (items []T, ok bool) {
	data, err := q.kv.Get(key)
	if errors.Is(err, ErrNotFound) || (err == nil && len(data) == 0) {
		return nil, true
	}
	if err != nil {
		q.logger.Warn("failed to read query log", "key", key, "error", err)
		return nil, false
	}
	var decoded []T
	if err := json.Unmarshal(data, &decoded); err != nil {
		q.logger.Warn("discarding corrupt query log", "key", key, "error", err)
		return nil, true
	}
	return decoded, true
}

// rereadHistory retries a history read that failed earlier and keeps the
// stored entries behind the in-memory ones. Callers hold q.persistMu.
func (q *QueryLog) rereadHistory() {
	if !q.unread[HistoryKey] {
		return
	}
	stored, ok := readBlob[Entry](q, HistoryKey)
	if !ok {
		return
	}
	delete(q.unread, HistoryKey)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = normalizeHistory(append(slices.Clone(q.history), stored...))
	for _, e := range stored {
		q.lastID = max(q.lastID, e.ID)
	}
}

// rereadFavorites retries a favorites read that failed earlier. Stored
// favorites come first since they were pinned before this session.
// Callers hold q.persistMu.
func (q *QueryLog) rereadFavorites() {
	if !q.unread[FavoritesKey] {
		return
	}
	stored, ok := readBlob[Favorite](q, FavoritesKey)
	if !ok {
		return
	}
	delete(q.unread, FavoritesKey)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.favorites = normalizeFavorites(append(stored, q.favorites...))
	for _, f := range stored {
		q.lastID = max(q.lastID, f.ID)
	}
}

// RecordExecution prepends an entry for sql, replacing an older entry with
// the same trimmed text. Blank statements are ignored.
func (q *QueryLog) RecordExecution(sql, database string, success bool) Entry {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return Entry{}
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()
	q.rereadHistory()

	q.mu.Lock()
	now := q.now()
	entry := Entry{
		ID:        q.nextID(now),
		SQL:       sql,
		Database:  database,
		Timestamp: now,
		Success:   success,
	}
	history := slices.DeleteFunc(q.history, func(e Entry) bool { return e.SQL == sql })
	history = append([]Entry{entry}, history...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	q.history = history
	snapshot := slices.Clone(history)
	q.mu.Unlock()

	q.write(HistoryKey, snapshot)
	return entry
}

// ToggleFavorite pins sql, or unpins it when already pinned. It reports
// whether sql is a favorite afterwards.
func (q *QueryLog) ToggleFavorite(sql string) bool {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return false
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()
	q.rereadFavorites()

	q.mu.Lock()
	favorited := false
	if i := slices.IndexFunc(q.favorites, func(f Favorite) bool { return f.SQL == sql }); i >= 0 {
		q.favorites = slices.Delete(q.favorites, i, i+1)
	} else {
		now := q.now()
		q.favorites = append(q.favorites, Favorite{ID: q.nextID(now), SQL: sql, Timestamp: now})
		favorited = true
	}
	snapshot := slices.Clone(q.favorites)
	q.mu.Unlock()

	q.write(FavoritesKey, snapshot)
	return favorited
}

// IsFavorite reports whether the trimmed sql is pinned.
func (q *QueryLog) IsFavorite(sql string) bool {
	sql = strings.TrimSpace(sql)
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.ContainsFunc(q.favorites, func(f Favorite) bool { return f.SQL == sql })
}

// Search yields history entries whose SQL contains term, ignoring case, most
// recent first. Each iteration works on the history as it was when it started.
func (q *QueryLog) Search(term string) iter.Seq[Entry] {
	needle := strings.ToLower(term)
	return func(yield func(Entry) bool) {
		q.mu.RLock()
		history := slices.Clone(q.history)
		q.mu.RUnlock()

		for _, e := range history {
			if !strings.Contains(strings.ToLower(e.SQL), needle) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// History returns a copy of the history, most recent first.
func (q *QueryLog) History() []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.history)
}

// Favorites returns a copy of the favorites in insertion order.
func (q *QueryLog) Favorites() []Favorite {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.favorites)
}

// Clear empties the history and removes its blob. Favorites are kept.
func (q *QueryLog) Clear() {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	q.history = nil
	q.mu.Unlock()

	if err := q.kv.Delete(HistoryKey); err != nil {
		q.logger.Warn("failed to clear query history", "error", err)
		return
	}
	delete(q.unread, HistoryKey)
}

// nextID returns a millisecond timestamp id, bumped past the last one issued.
// Callers hold q.mu.
func (q *QueryLog) nextID(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= q.lastID {
		id = q.lastID + 1
	}
	q.lastID = id
	return id
}

// write stores v under key. Callers hold q.persistMu.
func (q *QueryLog) write(key string, v any) {
	if q.unread[key] {
		q.logger.Warn("query log not persisted after failed read", "key", key)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		q.logger.Warn("failed to encode query log", "key", key, "error", err)
		return
	}
	if err := q.kv.Put(key, data); err != nil {
		q.logger.Warn("failed to persist query log", "key", key, "error", err)
	}
}

// normalizeHistory restores the history invariants on data read from storage.
func normalizeHistory(in []Entry) []Entry {
	out := make([]Entry, 0, min(len(in), MaxHistory))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		e.SQL = strings.TrimSpace(e.SQL)
		if e.SQL == "" || seen[e.SQL] {
			continue
		}
		seen[e.SQL] = true
		out = append(out, e)
		if len(out) == MaxHistory {
			break
		}
	}
	return out
}

func normalizeFavorites(in []Favorite) []Favorite {
	out := make([]Favorite, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f.SQL = strings.TrimSpace(f.SQL)
		if f.SQL == "" || seen[f.SQL] {
			continue
		}
		seen[f.SQL] = true
		out = append(out, f)
	}
	return out
}
