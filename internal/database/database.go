package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/d-kowalski/signalpipe/internal/model"
	_ "modernc.org/sqlite"
)

// claimTTL is how long an enrichment claim holds before the rows become
// selectable again.
const claimTTL = 10 * time.Minute

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite due to write locking.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		base_url TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '{}',
		active INTEGER NOT NULL DEFAULT 1,
		user_added INTEGER NOT NULL DEFAULT 0,
		fail_streak INTEGER NOT NULL DEFAULT 0,
		last_fetched DATETIME
	);
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		source_type TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		summary TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		ai_summary TEXT NOT NULL DEFAULT '',
		ai_summary_zh TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		tags_zh TEXT NOT NULL DEFAULT '[]',
		title_translated TEXT NOT NULL DEFAULT '',
		enriched INTEGER NOT NULL DEFAULT 0,
		enrich_claimed_at DATETIME,
		is_valid_demand INTEGER,
		validation_note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_enriched ON signals(enriched, created_at);
	CREATE INDEX IF NOT EXISTS idx_signals_source ON signals(source_id);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Source Methods ---

const sourceCols = "id, slug, name, type, base_url, config, active, user_added, fail_streak, last_fetched"

func scanSource(row interface{ Scan(...any) error }) (model.Source, error) {
	var s model.Source
	var lastFetched sql.NullTime
	err := row.Scan(&s.ID, &s.Slug, &s.Name, &s.Type, &s.BaseURL, &s.Config,
		&s.Active, &s.UserAdded, &s.FailStreak, &lastFetched)
	if lastFetched.Valid {
		s.LastFetched = lastFetched.Time
	}
	return s, err
}

func (db *DB) querySources(query string, args ...any) ([]model.Source, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []model.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// GetActiveSources returns all active sources ordered by slug.
func (db *DB) GetActiveSources() ([]model.Source, error) {
	return db.querySources("SELECT " + sourceCols + " FROM sources WHERE active = 1 ORDER BY slug")
}

// GetAllSources returns every source regardless of state.
func (db *DB) GetAllSources() ([]model.Source, error) {
	return db.querySources("SELECT " + sourceCols + " FROM sources ORDER BY slug")
}

// GetSourceByID returns one source or nil if absent.
func (db *DB) GetSourceByID(id int64) (*model.Source, error) {
	s, err := scanSource(db.conn.QueryRow("SELECT "+sourceCols+" FROM sources WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSource adds a new source. Returns the ID.
func (db *DB) CreateSource(s *model.Source) (int64, error) {
	if s.Config == "" {
		s.Config = "{}"
	}
	res, err := db.conn.Exec(`
		INSERT INTO sources (slug, name, type, base_url, config, active, user_added)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.Slug, s.Name, s.Type, s.BaseURL, s.Config, s.Active, s.UserAdded)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetOrCreateSource finds a source by slug, or creates it.
func (db *DB) GetOrCreateSource(s *model.Source) (int64, bool, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM sources WHERE slug = ?", s.Slug).Scan(&id)
	if err == sql.ErrNoRows {
		id, err := db.CreateSource(s)
		return id, true, err
	}
	return id, false, err
}

// SetSourceActive toggles a source without deleting its signals.
func (db *DB) SetSourceActive(id int64, active bool) error {
	_, err := db.conn.Exec("UPDATE sources SET active = ? WHERE id = ?", active, id)
	return err
}

// UpdateSourceLastFetched stamps the last_fetched timestamp.
func (db *DB) UpdateSourceLastFetched(id int64, t time.Time) error {
	_, err := db.conn.Exec("UPDATE sources SET last_fetched = ? WHERE id = ?", t, id)
	return err
}

// RecordSourceResult maintains the consecutive-failure streak and
// deactivates the source once it reaches threshold.
func (db *DB) RecordSourceResult(id int64, ok bool, threshold int) (int, error) {
	if ok {
		_, err := db.conn.Exec("UPDATE sources SET fail_streak = 0 WHERE id = ?", id)
		return 0, err
	}
	var streak int
	err := db.conn.QueryRow("SELECT fail_streak FROM sources WHERE id = ?", id).Scan(&streak)
	if err != nil {
		return 0, err
	}
	streak++
	active := threshold <= 0 || streak < threshold
	_, err = db.conn.Exec("UPDATE sources SET fail_streak = ?, active = ? WHERE id = ?", streak, active, id)
	return streak, err
}

// --- Signal Methods ---

const signalCols = `id, source_id, source_type, title, url, summary, score, category,
	external_id, metadata, ai_summary, ai_summary_zh, tags, tags_zh, title_translated,
	enriched, is_valid_demand, validation_note, created_at, updated_at`

func scanSignal(row interface{ Scan(...any) error }) (model.Signal, error) {
	var sig model.Signal
	var metadata, tags, tagsZh string
	var isValid sql.NullBool
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&sig.ID, &sig.SourceID, &sig.SourceType, &sig.Title, &sig.URL,
		&sig.Summary, &sig.Score, &sig.Category, &sig.ExternalID, &metadata,
		&sig.AISummary, &sig.AISummaryZh, &tags, &tagsZh, &sig.TitleTranslated,
		&sig.Enriched, &isValid, &sig.ValidationNote, &createdAt, &updatedAt)
	if err != nil {
		return sig, err
	}
	if isValid.Valid {
		v := isValid.Bool
		sig.IsValidDemand = &v
	}
	if createdAt.Valid {
		sig.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		sig.UpdatedAt = updatedAt.Time
	}
	// Malformed JSON in these columns degrades to empty values.
	json.Unmarshal([]byte(metadata), &sig.Metadata)
	json.Unmarshal([]byte(tags), &sig.Tags)
	json.Unmarshal([]byte(tagsZh), &sig.TagsZh)
	return sig, nil
}

func (db *DB) querySignals(query string, args ...any) ([]model.Signal, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var signals []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func marshalJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || v == nil {
		return empty
	}
	return string(b)
}

// UpsertSignal writes one signal keyed on url. On conflict only score,
// summary (when non-empty) and metadata are updated. Returns the row id
// and whether the row was newly created.
func (db *DB) UpsertSignal(sig *model.Signal) (int64, bool, error) {
	now := time.Now()
	var id int64
	var isNew bool
	// created_at equals updated_at only on the insert path; the conflict
	// branch stamps a fresh updated_at while created_at keeps its value.
	err := db.conn.QueryRow(`
		INSERT INTO signals (source_id, source_type, title, url, summary, score,
			category, external_id, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			score = excluded.score,
			summary = CASE WHEN excluded.summary != '' THEN excluded.summary ELSE summary END,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		RETURNING id, (created_at = updated_at)`,
		sig.SourceID, sig.SourceType, sig.Title, sig.URL, sig.Summary, sig.Score,
		sig.Category, sig.ExternalID, marshalJSON(sig.Metadata, "{}"), now, now).Scan(&id, &isNew)
	if err != nil {
		return 0, false, err
	}
	return id, isNew, nil
}

// GetSignals returns signals ordered by creation time descending.
func (db *DB) GetSignals(limit, offset int) ([]model.Signal, error) {
	return db.querySignals("SELECT "+signalCols+" FROM signals ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset)
}

// GetSignalByID returns one signal or nil if absent.
func (db *DB) GetSignalByID(id int64) (*model.Signal, error) {
	sig, err := scanSignal(db.conn.QueryRow("SELECT "+signalCols+" FROM signals WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// ClaimUnenriched selects up to limit unenriched signals newest first
// and stamps their claim time so a concurrent run skips them.
func (db *DB) ClaimUnenriched(limit int) ([]model.Signal, error) {
	cutoff := time.Now().Add(-claimTTL)
	rows, err := db.conn.Query(`
		SELECT id FROM signals
		WHERE enriched = 0 AND (enrich_claimed_at IS NULL OR enrich_claimed_at < ?)
		ORDER BY created_at DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now())
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := db.conn.Exec("UPDATE signals SET enrich_claimed_at = ? WHERE id IN ("+placeholders+")", args...); err != nil {
		return nil, err
	}
	return db.querySignals("SELECT "+signalCols+" FROM signals WHERE id IN ("+placeholders+") ORDER BY created_at DESC", args[1:]...)
}

// CountUnenriched returns how many signals still await enrichment.
func (db *DB) CountUnenriched() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM signals WHERE enriched = 0").Scan(&n)
	return n, err
}

// UpdateEnrichment writes one enrichment result and marks the signal
// enriched so it is never re-selected.
func (db *DB) UpdateEnrichment(res model.EnrichmentResult) error {
	_, err := db.conn.Exec(`
		UPDATE signals SET ai_summary = ?, ai_summary_zh = ?, category = ?,
			tags = ?, tags_zh = ?, title_translated = ?,
			enriched = 1, enrich_claimed_at = NULL, updated_at = ?
		WHERE id = ?`,
		res.AISummary, res.AISummaryZh, res.Category,
		marshalJSON(res.Tags, "[]"), marshalJSON(res.TagsZh, "[]"),
		res.TitleTranslated, time.Now(), res.SignalID)
	return err
}

// GetUnvalidatedDemandSignals returns unvalidated signals of the given
// source types created after since, newest first.
func (db *DB) GetUnvalidatedDemandSignals(types []string, since time.Time, limit int) ([]model.Signal, error) {
	if len(types) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
	args := make([]any, 0, len(types)+2)
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, since, limit)
	return db.querySignals(`SELECT `+signalCols+` FROM signals
		WHERE source_type IN (`+placeholders+`) AND is_valid_demand IS NULL AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?`, args...)
}

// UpdateDemandValidation writes one validation verdict.
func (db *DB) UpdateDemandValidation(id int64, isValid bool, reason string) error {
	_, err := db.conn.Exec(
		"UPDATE signals SET is_valid_demand = ?, validation_note = ?, updated_at = ? WHERE id = ?",
		isValid, reason, time.Now(), id)
	return err
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (db *DB) GetSetting(key string) (string, error) {
	var val string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	return val, err
}

// SetSetting saves a setting.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?", key, value, value)
	return err
}
