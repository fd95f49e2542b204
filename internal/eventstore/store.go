package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-stt/internal/config"
	_ "modernc.org/sqlite"
)

// Outcome classifies how a transcription request ended.
type Outcome string

const (
	OutcomeTranscribed  Outcome = "transcribed"
	OutcomeEmptyAudio   Outcome = "empty_audio"
	OutcomeTooShort     Outcome = "too_short"
	OutcomeInvalidAudio Outcome = "invalid_audio"
	OutcomeEngineError  Outcome = "engine_error"
)

// Transcription is one recorded request outcome.
type Transcription struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Transport  string    `json:"transport"`
	AudioBytes int       `json:"audio_bytes"`
	SampleRate int       `json:"sample_rate"`
	Segments   int       `json:"segments"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence"`
	LatencyMS  int64     `json:"latency_ms"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed log of transcription outcomes.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. In ephemeral mode no
// database is opened and every operation is a no-op.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    transport TEXT,
    audio_bytes INTEGER,
    sample_rate INTEGER,
    segments INTEGER,
    text TEXT,
    confidence REAL,
    latency_ms INTEGER,
    outcome TEXT NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_created ON transcriptions(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Store) persistent() bool {
	return s != nil && s.db != nil && s.cfg.RetentionMode != "ephemeral"
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a transcription outcome. Text is dropped unless
// store_text is enabled.
func (s *Store) Record(ctx context.Context, t Transcription) error {
	if !s.persistent() {
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock().UTC()
	}
	if !s.cfg.StoreText {
		t.Text = ""
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcriptions(request_id, transport, audio_bytes, sample_rate, segments, text, confidence, latency_ms, outcome, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RequestID, t.Transport, t.AudioBytes, t.SampleRate, t.Segments, t.Text, t.Confidence, t.LatencyMS, string(t.Outcome), t.Error, t.CreatedAt)
	return err
}

// ListRecent returns up to limit outcomes, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Transcription, error) {
	if !s.persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, transport, audio_bytes, sample_rate, segments, text, confidence, latency_ms, outcome, error, created_at
		 FROM transcriptions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		var (
			t       Transcription
			outcome string
			created string
		)
		if err := rows.Scan(&t.ID, &t.RequestID, &t.Transport, &t.AudioBytes, &t.SampleRate, &t.Segments,
			&t.Text, &t.Confidence, &t.LatencyMS, &outcome, &t.Error, &created); err != nil {
			return nil, err
		}
		t.Outcome = Outcome(outcome)
		t.CreatedAt = parseTimestamp(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and periodically).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.persistent() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcriptions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM transcriptions WHERE id IN (
			SELECT id FROM transcriptions ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RunPruner prunes every interval until ctx is done.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	if !s.persistent() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

func parseTimestamp(v string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}
