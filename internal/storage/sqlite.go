package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/scout/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite feedback database: an append-only judgment log and
// per-document helpful/unhelpful counters.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "feedback.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Feedback ---

// RecordFeedback appends f to the log and bumps the matching counter in
// doc_scores. Both writes share one transaction; the counter is a single
// upsert so concurrent judgments for the same document are never lost.
func (s *Store) RecordFeedback(ctx context.Context, f Feedback) (int64, error) {
	const op = "feedback.record"
	if f.DocID == "" {
		return 0, apperr.Errorf(apperr.KindInvalid, op, "doc_id is required")
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	meta := "{}"
	if len(f.Metadata) > 0 {
		b, err := json.Marshal(f.Metadata)
		if err != nil {
			return 0, apperr.E(apperr.KindInvalid, op, fmt.Errorf("encoding metadata: %w", err))
		}
		meta = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.E(apperr.KindFeedbackPersistence, op, fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO feedback (query, doc_id, is_helpful, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		f.Query, f.DocID, boolToInt(f.IsHelpful), f.Timestamp.UTC().Format(time.RFC3339Nano), meta,
	)
	if err != nil {
		return 0, apperr.E(apperr.KindFeedbackPersistence, op, fmt.Errorf("inserting feedback: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, apperr.E(apperr.KindFeedbackPersistence, op, err)
	}

	upsert := `
		INSERT INTO doc_scores (doc_id, helpful_count) VALUES (?, 1)
		ON CONFLICT(doc_id) DO UPDATE SET helpful_count = helpful_count + 1`
	if !f.IsHelpful {
		upsert = `
		INSERT INTO doc_scores (doc_id, unhelpful_count) VALUES (?, 1)
		ON CONFLICT(doc_id) DO UPDATE SET unhelpful_count = unhelpful_count + 1`
	}
	if _, err := tx.ExecContext(ctx, upsert, f.DocID); err != nil {
		return 0, apperr.E(apperr.KindFeedbackPersistence, op, fmt.Errorf("updating doc score: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.E(apperr.KindFeedbackPersistence, op, fmt.Errorf("committing: %w", err))
	}
	return id, nil
}

// GetScore returns the counters for docID, zero-valued if it was never scored.
func (s *Store) GetScore(ctx context.Context, docID string) (DocScore, error) {
	const op = "feedback.score"
	d := DocScore{DocID: docID}
	err := s.db.QueryRowContext(ctx,
		`SELECT helpful_count, unhelpful_count FROM doc_scores WHERE doc_id = ?`, docID,
	).Scan(&d.HelpfulCount, &d.UnhelpfulCount)
	if err == sql.ErrNoRows {
		return d, nil
	}
	if err != nil {
		return DocScore{}, apperr.E(apperr.KindFeedbackPersistence, op, fmt.Errorf("querying doc score: %w", err))
	}
	return d, nil
}

// Scores returns counters for every id in docIDs. Ids without a row map to a
// zero-valued DocScore.
func (s *Store) Scores(ctx context.Context, docIDs []string) (map[string]DocScore, error) {
	const op = "feedback.scores"
	out := make(map[string]DocScore, len(docIDs))
	if len(docIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(docIDs))
	for i, id := range docIDs {
		out[id] = DocScore{DocID: id}
		args[i] = id
	}
	placeholders := strings.Repeat(",?", len(docIDs)-1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, helpful_count, unhelpful_count FROM doc_scores WHERE doc_id IN (?`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, apperr.E(apperr.KindFeedbackPersistence, op, fmt.Errorf("querying doc scores: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var d DocScore
		if err := rows.Scan(&d.DocID, &d.HelpfulCount, &d.UnhelpfulCount); err != nil {
			return nil, apperr.E(apperr.KindFeedbackPersistence, op, err)
		}
		out[d.DocID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.E(apperr.KindFeedbackPersistence, op, err)
	}
	return out, nil
}

// AggregateStats scans the feedback log.
func (s *Store) AggregateStats(ctx context.Context) (FeedbackStats, error) {
	var st FeedbackStats
	var helpful, unhelpful sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN is_helpful = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_helpful = 0 THEN 1 ELSE 0 END)
		FROM feedback`,
	).Scan(&st.TotalFeedback, &helpful, &unhelpful)
	if err != nil {
		return FeedbackStats{}, apperr.E(apperr.KindFeedbackPersistence, "feedback.stats", fmt.Errorf("querying feedback stats: %w", err))
	}
	st.HelpfulCount = int(helpful.Int64)
	st.UnhelpfulCount = int(unhelpful.Int64)
	if st.TotalFeedback > 0 {
		st.HelpfulRatio = float64(st.HelpfulCount) / float64(st.TotalFeedback)
	}
	return st, nil
}

// RecentFeedback returns up to limit log rows, newest first.
func (s *Store) RecentFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	const op = "feedback.recent"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, doc_id, is_helpful, timestamp, metadata
		FROM feedback ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, apperr.E(apperr.KindFeedbackPersistence, op, err)
	}
	defer rows.Close()

	var results []Feedback
	for rows.Next() {
		var f Feedback
		var helpful int
		var ts string
		var meta sql.NullString
		if err := rows.Scan(&f.ID, &f.Query, &f.DocID, &helpful, &ts, &meta); err != nil {
			return nil, apperr.E(apperr.KindFeedbackPersistence, op, err)
		}
		f.IsHelpful = helpful == 1
		f.Timestamp = parseTimestamp(ts)
		f.Metadata = decodeMetadata(meta.String)
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.E(apperr.KindFeedbackPersistence, op, err)
	}
	return results, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts RFC 3339 and the naive ISO forms older writers used.
// Unparseable values yield the zero time.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// decodeMetadata keeps non-JSON legacy payloads under "raw".
func decodeMetadata(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{"raw": s}
	}
	return m
}
