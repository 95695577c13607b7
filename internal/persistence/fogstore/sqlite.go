// Package fogstore keeps the last explored set of each scene in SQLite.
// Writes go through a single writer goroutine; reads hit the database
// directly.
package fogstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrClosed = errors.New("fogstore: closed")

// Record is one scene's stored explored set. Explored is VLQ text.
type Record struct {
	SceneID   string
	SessionID string
	RequestID uint64
	Explored  string
	UpdatedAt time.Time
}

type Store struct {
	db  *sql.DB
	log *log.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqDelete
	reqFlush
)

type req struct {
	kind   reqKind
	rec    Record
	flushd chan struct{}
}

type Options struct {
	Logger *log.Logger
	// QueueSize bounds pending writes. Save blocks while the queue is full.
	QueueSize int
}

func Open(path string, opts Options) (*Store, error) {
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

	q := opts.QueueSize
	if q <= 0 {
		q = 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Store{db: db, log: logger, ch: make(chan req, q)}
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
		`CREATE TABLE IF NOT EXISTS fog (
			scene_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			request_id INTEGER NOT NULL,
			explored TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fog_updated_at ON fog(updated_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Save queues an upsert. Within one session a save whose request id is older
// than the stored one is ignored; a save from a different session replaces
// the row.
func (s *Store) Save(rec Record) error {
	if rec.SceneID == "" {
		return fmt.Errorf("empty scene id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return s.send(req{kind: reqSave, rec: rec})
}

func (s *Store) Delete(sceneID string) error {
	return s.send(req{kind: reqDelete, rec: Record{SceneID: sceneID}})
}

// Flush waits until every write queued before it is committed.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.send(req{kind: reqFlush, flushd: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) send(r req) error {
	if s == nil {
		return ErrClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	s.ch <- r
	return nil
}

func (s *Store) Load(ctx context.Context, sceneID string) (Record, bool, error) {
	var (
		rec     Record
		reqID   int64
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT scene_id, session_id, request_id, explored, updated_at FROM fog WHERE scene_id = ?`, sceneID,
	).Scan(&rec.SceneID, &rec.SessionID, &reqID, &rec.Explored, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.RequestID = uint64(reqID)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, true, nil
}

// Scenes lists stored scene ids, most recently updated first.
func (s *Store) Scenes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scene_id FROM fog ORDER BY updated_at DESC, scene_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) loop() {
	ctx := context.Background()

	upsert, err := s.db.Prepare(`INSERT INTO fog(scene_id, session_id, request_id, explored, updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(scene_id) DO UPDATE SET
			session_id = excluded.session_id,
			request_id = excluded.request_id,
			explored = excluded.explored,
			updated_at = excluded.updated_at
		WHERE excluded.session_id <> fog.session_id OR excluded.request_id >= fog.request_id`)
	if err != nil {
		s.log.Printf("fogstore: prepare upsert: %v", err)
	}
	del, err := s.db.Prepare(`DELETE FROM fog WHERE scene_id = ?`)
	if err != nil {
		s.log.Printf("fogstore: prepare delete: %v", err)
	}
	defer func() {
		if upsert != nil {
			_ = upsert.Close()
		}
		if del != nil {
			_ = del.Close()
		}
	}()

	var tx *sql.Tx
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Printf("fogstore: begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.Printf("fogstore: commit: %v", err)
		}
		tx = nil
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
	}

	for r := range s.ch {
		switch r.kind {
		case reqFlush:
			commit()
			close(r.flushd)
			continue
		case reqSave:
			begin()
			if tx == nil || upsert == nil {
				continue
			}
			rec := r.rec
			if _, err := tx.Stmt(upsert).Exec(
				rec.SceneID,
				rec.SessionID,
				int64(rec.RequestID),
				rec.Explored,
				rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
			); err != nil {
				s.log.Printf("fogstore: save %s: %v", rec.SceneID, err)
				rollback()
				continue
			}
		case reqDelete:
			begin()
			if tx == nil || del == nil {
				continue
			}
			if _, err := tx.Stmt(del).Exec(r.rec.SceneID); err != nil {
				s.log.Printf("fogstore: delete %s: %v", r.rec.SceneID, err)
				rollback()
				continue
			}
		}
		// Keep the single connection free for readers when idle.
		if len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
