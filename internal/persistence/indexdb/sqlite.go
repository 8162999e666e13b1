// Package indexdb keeps a queryable SQLite read model of the timeline. The
// compressed JSONL log stays the source of truth; the index may drop entries
// when it falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"routeagent.ai/internal/protocol"
	"routeagent.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan protocol.TimelineRecord
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropped  atomic.Uint64
	written  atomic.Uint64
	failures atomic.Uint64
}

// Stats reports queue health.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	WrittenTotal  uint64 `json:"written_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
	FailTotal     uint64 `json:"fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 4096)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan protocol.TimelineRecord, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS timeline (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			category TEXT NOT NULL,
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			context_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_category_ts ON timeline(category, ts);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record enqueues a TIMELINE_EVENT without blocking. It never fails because
// the index is behind; the entry is counted as dropped instead.
func (s *SQLiteIndex) Record(env protocol.Envelope) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	rec, err := protocol.TimelineRecordOf(env)
	if err != nil {
		return err
	}
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		WrittenTotal:  s.written.Load(),
		DroppedTotal:  s.dropped.Load(),
		FailTotal:     s.failures.Load(),
	}
}

// UpsertTuning stores the effective tuning with its digest, so a timeline can
// be matched to the parameters that produced it.
func (s *SQLiteIndex) UpsertTuning(ctx context.Context, tune tuning.Tuning) error {
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// TuningDigest returns the digest stored by UpsertTuning, or "" if none.
func (s *SQLiteIndex) TuningDigest(ctx context.Context) (string, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM config WHERE name='tuning'`).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return digest, err
}

// Recent returns up to limit entries, newest first. A non-empty category
// filters on it.
func (s *SQLiteIndex) Recent(ctx context.Context, category string, limit int) ([]protocol.TimelineRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT id, ts, category, level, title, summary, context_json FROM timeline`
	args := []any{}
	if category != "" {
		q += ` WHERE category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []protocol.TimelineRecord{}
	for rows.Next() {
		var (
			rec protocol.TimelineRecord
			raw string
		)
		if err := rows.Scan(&rec.ID, &rec.TS, &rec.Category, &rec.Level, &rec.Title, &rec.Summary, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &rec.Context); err != nil {
			return nil, fmt.Errorf("timeline %s: context: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx          *sql.Tx
		insert      *sql.Stmt
		opCount     int
		commitEvery = 256
	)

	begin := func() bool {
		if tx != nil {
			return true
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.failures.Add(1)
			return false
		}
		st, err := txx.Prepare(`INSERT INTO timeline(id,ts,category,level,title,summary,context_json) VALUES(?,?,?,?,?,?,?)`)
		if err != nil {
			_ = txx.Rollback()
			s.failures.Add(1)
			return false
		}
		tx, insert, opCount = txx, st, 0
		return true
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = insert.Close()
		if err := tx.Commit(); err != nil {
			s.failures.Add(1)
		} else {
			s.written.Add(uint64(opCount))
		}
		tx, insert, opCount = nil, nil, 0
	}

	for rec := range s.ch {
		if !begin() {
			s.dropped.Add(1)
			continue
		}
		ctxJSON, err := json.Marshal(rec.Context)
		if err != nil || rec.Context == nil {
			ctxJSON = []byte("{}")
		}
		if _, err := insert.Exec(rec.ID, rec.TS, rec.Category, rec.Level, rec.Title, rec.Summary, string(ctxJSON)); err != nil {
			s.failures.Add(1)
			continue
		}
		opCount++
		// Commit once the queue drains or the batch is large enough.
		if len(s.ch) == 0 || opCount >= commitEvery {
			commit()
		}
	}
	commit()
}
