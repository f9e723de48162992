// Package store is the durable sample/epoch buffer: a single
// SQLite database, one writer (the orchestrator tick), FIFO-bounded sample
// table, upsert-by-epoch_id epoch table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"

	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	device_id TEXT NOT NULL,
	pwm_percent INTEGER NOT NULL,
	tvoc_ppb REAL NOT NULL,
	eco2_ppm REAL NOT NULL,
	payload BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS epochs (
	epoch_id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	sample_count INTEGER NOT NULL,
	payload BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store wraps a single *sql.DB, matching single-writer shared
// resource policy: the orchestrator tick is the only writer, other
// goroutines only read.
type Store struct {
	db *sql.DB
	bufferSize int
}

// Open opens (creating if absent) a SQLite database at path, configured for
// a single-board appliance's concurrent read / single-write access pattern.
func Open(path string, bufferSize int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("open: %w", err))
	}

	// SQLite's own locking model means extra pooled connections just
	// contend with each other; one connection avoids that entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("ping: %w", err))
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("wal mode: %w", err))
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("busy timeout: %w", err))
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("schema: %w", err))
	}

	return &Store{db: db, bufferSize: bufferSize}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSample appends sample and evicts the oldest rows in FIFO order once
// the live row count exceeds the configured buffer size.
func (s *Store) InsertSample(ctx context.Context, sample model.Sample) error {
	payload, err := cbor.Marshal(sample)
	if err != nil {
		return errs.New(errs.CodeStorageUnavailable, fmt.Errorf("encode sample: %w", err))
	}

	const insert = `INSERT INTO samples (timestamp, device_id, pwm_percent, tvoc_ppb, eco2_ppm, payload)
	 VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insert,
		sample.Timestamp, sample.DeviceID, sample.PWMPercent,
		sample.Environment.TVOCPpb, sample.Environment.ECO2Ppm, payload,
	); err != nil {
		return errs.New(errs.CodeStorageUnavailable, fmt.Errorf("insert sample: %w", err))
	}

	return s.evictOldestSamples(ctx)
}

func (s *Store) evictOldestSamples(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&count); err != nil {
		return errs.New(errs.CodeStorageUnavailable, fmt.Errorf("count samples: %w", err))
	}
	if count <= s.bufferSize {
		return nil
	}
	excess := count - s.bufferSize
	const del = `DELETE FROM samples WHERE id IN (SELECT id FROM samples ORDER BY id ASC LIMIT ?)`
	if _, err := s.db.ExecContext(ctx, del, excess); err != nil {
		return errs.New(errs.CodeStorageUnavailable, fmt.Errorf("evict samples: %w", err))
	}
	return nil
}

// UpsertEpoch inserts epoch, or overwrites the existing row with the same
// epoch_id.
func (s *Store) UpsertEpoch(ctx context.Context, epoch model.Epoch) error {
	payload, err := cbor.Marshal(epoch)
	if err != nil {
		return errs.New(errs.CodeStorageUnavailable, fmt.Errorf("encode epoch: %w", err))
	}

	const upsert = `INSERT INTO epochs (epoch_id, start_time, end_time, sample_count, payload, updated_at)
	 VALUES (?, ?, ?, ?, ?, ?)
	 ON CONFLICT(epoch_id) DO UPDATE SET
	 start_time = excluded.start_time,
	 end_time = excluded.end_time,
	 sample_count = excluded.sample_count,
	 payload = excluded.payload,
	 updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, upsert,
		epoch.EpochID, epoch.Time.Start, epoch.Time.End, epoch.SampleCount, payload, time.Now().Unix(),
	)
	if err != nil {
		return errs.New(errs.CodeStorageUnavailable, fmt.Errorf("upsert epoch: %w", err))
	}
	return nil
}

// RecentSamples returns up to limit samples in insertion order, oldest
// first, as a consistent point-in-time snapshot.
func (s *Store) RecentSamples(ctx context.Context, limit int) ([]model.Sample, error) {
	const q = `SELECT payload FROM samples ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("query samples: %w", err))
	}
	defer rows.Close()

	var out []model.Sample
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("scan sample: %w", err))
		}
		var sample model.Sample
		if err := cbor.Unmarshal(payload, &sample); err != nil {
			return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("decode sample: %w", err))
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, err)
	}
	reverse(out)
	return out, nil
}

// RecentEpochs returns up to limit epochs, most recently updated last.
func (s *Store) RecentEpochs(ctx context.Context, limit int) ([]model.Epoch, error) {
	const q = `SELECT payload FROM epochs ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("query epochs: %w", err))
	}
	defer rows.Close()

	var out []model.Epoch
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("scan epoch: %w", err))
		}
		var epoch model.Epoch
		if err := cbor.Unmarshal(payload, &epoch); err != nil {
			return nil, errs.New(errs.CodeStorageUnavailable, fmt.Errorf("decode epoch: %w", err))
		}
		out = append(out, epoch)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CodeStorageUnavailable, err)
	}
	reverse(out)
	return out, nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
