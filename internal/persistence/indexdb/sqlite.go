package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"worryrelay/internal/sim/runner"
)

// SQLiteIndex is a read-model of runs and rounds. Writes happen on a single
// goroutine; the simulation never waits on it for per-round rows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqBegin reqKind = iota + 1
	reqRound
	reqFinish
)

type req struct {
	kind reqKind

	info  runner.RunInfo
	round runner.RoundLogEntry
	sum   runner.Summary
}

// RunRow is one indexed run.
type RunRow struct {
	RunID           string
	Source          string
	Agents          int
	Relief          string
	Modulus         uint64
	RoundsRequested uint64
	Rounds          uint64
	Score           uint64
	ScoreErr        string
	Digest          string
	Interrupted     bool
	StartedAt       string
	FinishedAt      string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		ch: make(chan req, 65536),
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
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			agents INTEGER NOT NULL,
			relief TEXT NOT NULL,
			modulus TEXT NOT NULL,
			start_round INTEGER NOT NULL,
			rounds_requested INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			rounds INTEGER,
			score TEXT,
			score_err TEXT,
			digest TEXT,
			interrupted INTEGER,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			digest TEXT NOT NULL,
			items INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
		`CREATE TABLE IF NOT EXISTS agent_counts (
			run_id TEXT NOT NULL,
			agent INTEGER NOT NULL,
			inspections INTEGER NOT NULL,
			PRIMARY KEY (run_id, agent)
		);`,
		`INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');`,
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

// Dropped reports how many round rows were skipped because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) BeginRun(info runner.RunInfo) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.ch <- req{kind: reqBegin, info: info}
	return nil
}

func (s *SQLiteIndex) WriteRound(entry runner.RoundLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRound, round: entry}:
	default:
		// JSONL round logs remain the source of truth.
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) FinishRun(sum runner.Summary) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.ch <- req{kind: reqFinish, sum: sum}
	return nil
}

// Run loads one run by id. It only sees rows the writer has committed.
func (s *SQLiteIndex) Run(ctx context.Context, runID string) (RunRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id=?`, runID)
	return scanRun(row)
}

// RecentRuns lists the newest runs first.
func (s *SQLiteIndex) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AgentCounts returns the final per-agent inspection counts of a run.
func (s *SQLiteIndex) AgentCounts(ctx context.Context, runID string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT inspections FROM agent_counts WHERE run_id=? ORDER BY agent`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, uint64(n))
	}
	return out, rows.Err()
}

const runColumns = `run_id,source,agents,relief,modulus,rounds_requested,
	COALESCE(rounds,0),COALESCE(score,'0'),COALESCE(score_err,''),COALESCE(digest,''),
	COALESCE(interrupted,0),started_at,COALESCE(finished_at,'')`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRow, error) {
	var (
		r           RunRow
		modulus     string
		score       string
		requested   int64
		rounds      int64
		interrupted int64
	)
	err := sc.Scan(&r.RunID, &r.Source, &r.Agents, &r.Relief, &modulus, &requested,
		&rounds, &score, &r.ScoreErr, &r.Digest, &interrupted, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("run not indexed: %w", err)
	}
	if err != nil {
		return r, err
	}
	r.RoundsRequested = uint64(requested)
	r.Rounds = uint64(rounds)
	r.Interrupted = interrupted != 0
	if r.Modulus, err = strconv.ParseUint(modulus, 10, 64); err != nil {
		return r, fmt.Errorf("modulus: %w", err)
	}
	if r.Score, err = strconv.ParseUint(score, 10, 64); err != nil {
		return r, fmt.Errorf("score: %w", err)
	}
	return r, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,source,agents,relief,modulus,start_round,rounds_requested,started_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(run_id,round,digest,items,raw_json) VALUES(?,?,?,?,?)`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET rounds=?,score=?,score_err=?,digest=?,interrupted=?,finished_at=? WHERE run_id=?`)
	insertCount, _ := s.db.Prepare(`INSERT OR REPLACE INTO agent_counts(run_id,agent,inspections) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertRound, finishRun, insertCount} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqBegin:
			in := r.info
			if insertRun != nil {
				if _, err := tx.Stmt(insertRun).Exec(
					in.RunID,
					in.Source,
					in.Agents,
					in.Relief,
					strconv.FormatUint(in.Modulus, 10),
					int64(in.StartRound),
					int64(in.RoundsRequested),
					in.StartedAt.UTC().Format(time.RFC3339Nano),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqRound:
			e := r.round
			raw, _ := json.Marshal(e)
			items := 0
			for _, n := range e.QueueLens {
				items += n
			}
			if insertRound != nil {
				if _, err := tx.Stmt(insertRound).Exec(e.RunID, int64(e.Round), e.Digest, items, string(raw)); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqFinish:
			sum := r.sum
			interrupted := 0
			if sum.Interrupted {
				interrupted = 1
			}
			if finishRun != nil {
				if _, err := tx.Stmt(finishRun).Exec(
					int64(sum.Rounds),
					strconv.FormatUint(sum.Score, 10),
					sum.ScoreErr,
					sum.Digest,
					interrupted,
					sum.FinishedAt.UTC().Format(time.RFC3339Nano),
					sum.RunID,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for i, n := range sum.Inspections {
				if insertCount == nil {
					break
				}
				if _, err := tx.Stmt(insertCount).Exec(sum.RunID, i, int64(n)); err != nil {
					rollback()
					break
				}
				opCount++
			}
			// Run boundaries are committed right away so readers see finished runs.
			commit()
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
