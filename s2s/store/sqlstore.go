package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/dataset"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

// Fixed width so runs sort by created_at as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore persists encoded runs in a libsql database.
type SQLStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// ConnectToDB opens a libsql database. Bare paths are opened as local files
// and their parent directory is created.
func ConnectToDB(dsn string) (*sql.DB, error) {
	if !strings.Contains(dsn, ":") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
		dsn = "file:" + dsn
	} else if path, ok := strings.CutPrefix(dsn, "file:"); ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", dsn, err)
	}
	return db, nil
}

// OpenSQLStore connects to dsn and ensures the schema exists.
func OpenSQLStore(dsn string, logger zerolog.Logger) (*SQLStore, error) {
	db, err := ConnectToDB(dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	createTables := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			split TEXT NOT NULL,
			task TEXT,
			mode TEXT NOT NULL,
			mask_kind TEXT NOT NULL,
			max_source_length INTEGER NOT NULL,
			max_target_length INTEGER NOT NULL,
			num_samples INTEGER NOT NULL,
			source_truncated INTEGER NOT NULL,
			target_truncated INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS samples (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			uid TEXT NOT NULL,
			attention_boundary INTEGER NOT NULL,
			tokens BLOB NOT NULL,
			target BLOB,
			loss_mask BLOB,
			position_abs BLOB NOT NULL,
			position_block BLOB NOT NULL,
			source_text TEXT,
			target_text TEXT,
			reference TEXT,
			PRIMARY KEY (run_id, idx)
		)`,
	}
	for _, query := range createTables {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveDataset writes the manifest and every sample of d in one transaction.
func (s *SQLStore) SaveDataset(ctx context.Context, m Manifest, d *dataset.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, split, task, mode, mask_kind, max_source_length,
		max_target_length, num_samples, source_truncated, target_truncated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.Split, m.Task, m.Mode.String(), m.MaskKind.String(), m.MaxSourceLength,
		m.MaxTargetLength, m.NumSamples, m.SourceTruncated, m.TargetTruncated, m.CreatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (run_id, idx, uid, attention_boundary, tokens,
		target, loss_mask, position_abs, position_block, source_text, target_text, reference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < d.Len(); i++ {
		sm, err := d.Get(i)
		if err != nil {
			return err
		}
		var src, tgt, ref sql.NullString
		if ex, ok := d.Example(sm.ID); ok {
			src = sql.NullString{String: ex.Source, Valid: true}
			tgt = sql.NullString{String: ex.Target, Valid: true}
			ref = sql.NullString{String: ex.Reference, Valid: true}
		}
		_, err = stmt.ExecContext(ctx, m.ID.String(), i, sm.ID, sm.AttentionBoundary, packInt64s(sm.Tokens),
			nullableBlob(sm.Target), nullableBlob(sm.LossMask),
			packInt64s(sm.PositionIDs.Absolute), packInt64s(sm.PositionIDs.BlockRelative),
			src, tgt, ref)
		if err != nil {
			return fmt.Errorf("failed to insert sample %s: %w", sm.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Debug().Str("run", m.ID.String()).Str("split", m.Split).Int("samples", d.Len()).Msg("Saved run")
	return nil
}

// ListRuns returns every manifest, newest first.
func (s *SQLStore) ListRuns(ctx context.Context) ([]Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, split, task, mode, mask_kind, max_source_length,
		max_target_length, num_samples, source_truncated, target_truncated, created_at
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetRun returns the manifest of one run.
func (s *SQLStore) GetRun(ctx context.Context, id uuid.UUID) (Manifest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, split, task, mode, mask_kind, max_source_length,
		max_target_length, num_samples, source_truncated, target_truncated, created_at
		FROM runs WHERE id = ?`, id.String())
	m, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return m, err
}

// LoadDataset rebuilds the dataset of a run. Stats are not persisted, so the
// returned dataset reports nil Stats; the manifest carries the counts.
func (s *SQLStore) LoadDataset(ctx context.Context, id uuid.UUID) (*dataset.Dataset, Manifest, error) {
	m, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, Manifest{}, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT uid, attention_boundary, tokens, target, loss_mask,
		position_abs, position_block, source_text, target_text, reference
		FROM samples WHERE run_id = ? ORDER BY idx`, id.String())
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	samples := make([]encoder.Sample, 0, m.NumSamples)
	var examples []dataset.Example
	for rows.Next() {
		var (
			sm                             encoder.Sample
			tokens, target, mask, abs, blk []byte
			src, tgt, ref                  sql.NullString
		)
		if err := rows.Scan(&sm.ID, &sm.AttentionBoundary, &tokens, &target, &mask, &abs, &blk, &src, &tgt, &ref); err != nil {
			return nil, Manifest{}, fmt.Errorf("failed to scan sample: %w", err)
		}
		sm.Tokens = unpackInt64s(tokens)
		if target != nil {
			sm.Target = unpackInt64s(target)
			sm.LossMask = unpackInt64s(mask)
		}
		sm.PositionIDs = encoder.PositionIDs{Absolute: unpackInt64s(abs), BlockRelative: unpackInt64s(blk)}
		samples = append(samples, sm)
		if src.Valid {
			examples = append(examples, dataset.Example{ID: sm.ID, Source: src.String, Target: tgt.String, Reference: ref.String})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, Manifest{}, err
	}
	return dataset.New(m.Split, samples, examples), m, nil
}

// DeleteRun removes a run and its samples.
func (s *SQLStore) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM samples WHERE run_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanManifest(row scanner) (Manifest, error) {
	var (
		m                         Manifest
		id, mode, kind, createdAt string
		task                      sql.NullString
	)
	err := row.Scan(&id, &m.Split, &task, &mode, &kind, &m.MaxSourceLength, &m.MaxTargetLength,
		&m.NumSamples, &m.SourceTruncated, &m.TargetTruncated, &createdAt)
	if err != nil {
		return Manifest{}, err
	}
	if m.ID, err = uuid.Parse(id); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse run id: %w", err)
	}
	m.Task = task.String
	m.Mode = encoder.Eval
	if mode == encoder.Train.String() {
		m.Mode = encoder.Train
	}
	if m.MaskKind, err = encoder.ParseMaskKind(kind); err != nil {
		return Manifest{}, err
	}
	if m.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse run timestamp: %w", err)
	}
	return m, nil
}

func packInt64s(xs []int64) []byte {
	var buf bytes.Buffer
	buf.Grow(8 * len(xs))
	_ = binary.Write(&buf, binary.LittleEndian, xs)
	return buf.Bytes()
}

func unpackInt64s(b []byte) []int64 {
	out := make([]int64, len(b)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out
}

func nullableBlob(xs []int64) any {
	if xs == nil {
		return nil
	}
	return packInt64s(xs)
}
