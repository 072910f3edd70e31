package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the meeting_transcripts table.
const Schema = `
CREATE TABLE IF NOT EXISTS meeting_transcripts (
    meeting_id      TEXT PRIMARY KEY,
    chunk_index     INTEGER NOT NULL DEFAULT 0,
    text            TEXT NOT NULL DEFAULT '',
    speaker_label   TEXT NOT NULL DEFAULT '',
    source_language TEXT NOT NULL DEFAULT '',
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// notifyChannel is the LISTEN/NOTIFY channel carrying transcript changes.
const notifyChannel = "transcript_updates"

// notifyPayload is the JSON payload sent with each NOTIFY.
type notifyPayload struct {
	MeetingID string `json:"meeting_id"`
}

// PostgresStore is a [Store] backed by PostgreSQL. Writes go through the
// shared pool; each subscription holds one dedicated LISTEN connection.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database at dsn and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Ping verifies database connectivity, for readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Upsert writes the meeting row and notifies subscribers in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	if rec.MeetingID == "" {
		return errors.New("transcript store: meeting id must not be empty")
	}

	payload, err := json.Marshal(notifyPayload{MeetingID: rec.MeetingID})
	if err != nil {
		return fmt.Errorf("transcript store: marshal notify payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("transcript store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO meeting_transcripts (meeting_id, chunk_index, text, speaker_label, source_language, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (meeting_id) DO UPDATE SET
			chunk_index     = EXCLUDED.chunk_index,
			text            = EXCLUDED.text,
			speaker_label   = EXCLUDED.speaker_label,
			source_language = EXCLUDED.source_language,
			updated_at      = now()`
	if _, err := tx.Exec(ctx, query, rec.MeetingID, rec.ChunkIndex, rec.Text, rec.SpeakerLabel, rec.SourceLanguage); err != nil {
		return fmt.Errorf("transcript store: upsert: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("transcript store: notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("transcript store: commit: %w", err)
	}
	return nil
}

// GetLatest returns the meeting's current row.
func (s *PostgresStore) GetLatest(ctx context.Context, meetingID string) (Record, error) {
	const query = `
		SELECT meeting_id, chunk_index, text, speaker_label, source_language, updated_at
		FROM meeting_transcripts
		WHERE meeting_id = $1`

	rows, err := s.pool.Query(ctx, query, meetingID)
	if err != nil {
		return Record{}, fmt.Errorf("transcript store: get latest: %w", err)
	}
	rec, err := pgx.CollectOneRow(rows, pgx.RowToStructByPos[Record])
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("transcript store: scan latest: %w", err)
	}
	return rec, nil
}

// Subscribe opens a dedicated LISTEN connection and forwards the meeting's
// record on every notification. Notifications for other meetings on the
// shared channel are filtered out.
func (s *PostgresStore) Subscribe(ctx context.Context, meetingID string) (<-chan Record, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("transcript store: acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("transcript store: listen: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	out := make(chan Record, 16)
	go func() {
		defer close(out)
		defer conn.Release()
		defer cancel()

		for {
			notification, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				if subCtx.Err() == nil {
					slog.Warn("transcript store: notification wait failed", "meeting_id", meetingID, "err", err)
				}
				return
			}

			var payload notifyPayload
			if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
				slog.Warn("transcript store: bad notify payload", "payload", notification.Payload)
				continue
			}
			if payload.MeetingID != meetingID {
				continue
			}

			fetchCtx, fetchCancel := context.WithTimeout(subCtx, 5*time.Second)
			rec, err := s.GetLatest(fetchCtx, meetingID)
			fetchCancel()
			if err != nil {
				slog.Warn("transcript store: fetch after notify failed", "meeting_id", meetingID, "err", err)
				continue
			}

			select {
			case out <- rec:
			case <-subCtx.Done():
				return
			default:
				// Drop for slow consumers; the next notify carries newer state.
			}
		}
	}()
	return out, nil
}

// Close cancels all subscriptions and releases the pool.
func (s *PostgresStore) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.pool.Close()
}
