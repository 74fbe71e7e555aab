package tracesink

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/failcore/core/pkg/contracts"
)

// FileSink appends each envelope as one JSON line to a local file —
// the default sink for a single-process run with no external store
// configured.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens (creating if needed) path for append-only writes.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracesink: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(_ context.Context, env contracts.TraceEnvelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("tracesink: marshal envelope: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// SQLSink persists envelopes to a single `trace_events` table over
// database/sql, shared by the Postgres (lib/pq) and SQLite
// (modernc.org/sqlite) backends — only the driver and DSN differ.
type SQLSink struct {
	db *sql.DB
}

// NewPostgresSink opens a lib/pq-backed sink against dsn and ensures
// trace_events exists.
func NewPostgresSink(dsn string) (*SQLSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracesink: open postgres: %w", err)
	}
	if err := ensureSchema(db, `
		CREATE TABLE IF NOT EXISTS trace_events (
			run_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			step_id TEXT,
			payload JSONB NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`); err != nil {
		return nil, err
	}
	return &SQLSink{db: db}, nil
}

// NewSQLiteSink opens a modernc.org/sqlite-backed sink against path.
func NewSQLiteSink(path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracesink: open sqlite: %w", err)
	}
	if err := ensureSchema(db, `
		CREATE TABLE IF NOT EXISTS trace_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			ts DATETIME NOT NULL,
			step_id TEXT,
			payload TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`); err != nil {
		return nil, err
	}
	return &SQLSink{db: db}, nil
}

func ensureSchema(db *sql.DB, ddl string) error {
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("tracesink: create schema: %w", err)
	}
	return nil
}

func (s *SQLSink) Write(ctx context.Context, env contracts.TraceEnvelope) error {
	payload, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("tracesink: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trace_events (run_id, seq, event_type, ts, step_id, payload) VALUES ($1, $2, $3, $4, $5, $6)`,
		env.RunID, env.Seq, string(env.EventType), env.Ts, env.StepID, payload,
	)
	if err != nil {
		return fmt.Errorf("tracesink: insert trace event: %w", err)
	}
	return nil
}

func (s *SQLSink) Close() error { return s.db.Close() }

// S3Sink archives envelopes to S3, one object per envelope, keyed by
// run and sequence — intended as a durable cold-storage mirror rather
// than the hot query path.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3SinkConfig configures an S3Sink.
type S3SinkConfig struct {
	Bucket string
	Prefix string
}

// NewS3Sink constructs an S3Sink from a pre-built client, matching the
// injection pattern used elsewhere for AWS clients.
func NewS3Sink(client *s3.Client, cfg S3SinkConfig) *S3Sink {
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (s *S3Sink) Write(ctx context.Context, env contracts.TraceEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("tracesink: marshal envelope: %w", err)
	}
	key := fmt.Sprintf("%s%s/%020d-%s.json", s.prefix, env.RunID, env.Seq, shortHash(body))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("tracesink: s3 put failed for %s: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// MultiSink fans writes out to several sinks, returning the first
// error but attempting all of them — used to mirror a trace to both a
// local file and a durable archive.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Write(ctx context.Context, env contracts.TraceEnvelope) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(ctx, env); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
