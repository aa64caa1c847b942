// Package sqlite keeps match history in a SQLite file: every kill the
// Authority scores and the final result of each match.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"arena-duel/server/internal/match"
	"arena-duel/server/internal/net/proto"
	"arena-duel/server/internal/session"
)

// ErrNotFound is returned when a match has no recorded result.
var ErrNotFound = errors.New("history: not found")

const schema = `
CREATE TABLE IF NOT EXISTS kills (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  match_id    TEXT    NOT NULL,
  victim      INTEGER NOT NULL,
  attacker    INTEGER NOT NULL,
  score       INTEGER NOT NULL,
  recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS kills_match ON kills (match_id, id);
CREATE TABLE IF NOT EXISTS results (
  match_id    TEXT    PRIMARY KEY,
  winner      INTEGER NOT NULL,
  scores      TEXT    NOT NULL,
  recorded_at INTEGER NOT NULL
);`

// Kill is one scored death.
type Kill struct {
	MatchID    string
	Victim     session.ActorNumber
	Attacker   session.ActorNumber
	Score      int
	RecordedAt time.Time
}

// Result is the end of one match.
type Result struct {
	MatchID    string
	Winner     session.ActorNumber
	Scores     []proto.ScoreEntry
	RecordedAt time.Time
}

// Store persists match history.
type Store struct {
	sqlDB *sql.DB
	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) a history file.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s := &Store{sqlDB: sqlDB, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// RecordKill implements match.Recorder.
func (s *Store) RecordKill(ctx context.Context, matchID string, victim, attacker session.ActorNumber, score int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kills (match_id, victim, attacker, score, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		matchID, int64(victim), int64(attacker), score, toMillis(s.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("record kill: %w", err)
	}
	return nil
}

// RecordResult implements match.Recorder. A match has one result; a second
// call for the same match replaces it.
func (s *Store) RecordResult(ctx context.Context, matchID string, winner session.ActorNumber, scores []proto.ScoreEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	encoded, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO results (match_id, winner, scores, recorded_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (match_id) DO UPDATE SET winner = excluded.winner, scores = excluded.scores, recorded_at = excluded.recorded_at`,
		matchID, int64(winner), string(encoded), toMillis(s.clock.Now()),
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// Kills lists a match's kills in the order they were recorded.
func (s *Store) Kills(ctx context.Context, matchID string) ([]Kill, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT victim, attacker, score, recorded_at FROM kills WHERE match_id = ? ORDER BY id`,
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list kills: %w", err)
	}
	defer rows.Close()

	var kills []Kill
	for rows.Next() {
		var victim, attacker, recordedAt int64
		k := Kill{MatchID: matchID}
		if err := rows.Scan(&victim, &attacker, &k.Score, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan kill: %w", err)
		}
		k.Victim = session.ActorNumber(victim)
		k.Attacker = session.ActorNumber(attacker)
		k.RecordedAt = fromMillis(recordedAt)
		kills = append(kills, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list kills: %w", err)
	}
	return kills, nil
}

// Result returns a match's final result.
func (s *Store) Result(ctx context.Context, matchID string) (Result, error) {
	var winner, recordedAt int64
	var scores string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT winner, scores, recorded_at FROM results WHERE match_id = ?`,
		matchID,
	).Scan(&winner, &scores, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("get result: %w", err)
	}
	r := Result{MatchID: matchID, Winner: session.ActorNumber(winner), RecordedAt: fromMillis(recordedAt)}
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return Result{}, fmt.Errorf("decode scores: %w", err)
	}
	return r, nil
}

var _ match.Recorder = (*Store)(nil)
