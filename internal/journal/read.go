package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/scenebridge/internal/diag"
)

// SceneRecord is one journaled scene.
type SceneRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Batch is one journaled inbound batch.
type Batch struct {
	Seq  int64
	Body []byte
}

// Snapshot is one journaled state snapshot with its body decompressed.
type Snapshot struct {
	Seq    int64
	Digest string
	Body   []byte
}

// ListScenes returns every scene ordered by id.
func (j *Journal) ListScenes(ctx context.Context) ([]SceneRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM scenes
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	scenes := []SceneRecord{}
	for rows.Next() {
		var rec SceneRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Name, &created); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		scenes = append(scenes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}
	return scenes, nil
}

// GetScene returns the scene with id, or ErrNotFound.
func (j *Journal) GetScene(ctx context.Context, id string) (SceneRecord, error) {
	rec := SceneRecord{ID: id}
	var created int64
	err := j.db.QueryRowContext(ctx, `SELECT name, created_at FROM scenes WHERE id = ?`, id).
		Scan(&rec.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return rec, fmt.Errorf("get scene: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

// ReadBatches returns batches of sceneID with seq > after, in seq order.
func (j *Journal) ReadBatches(ctx context.Context, sceneID string, after int64) ([]Batch, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, body FROM batches
		WHERE scene_id = ? AND seq > ?
		ORDER BY seq ASC
	`, sceneID, after)
	if err != nil {
		return nil, fmt.Errorf("read batches: %w", err)
	}
	defer rows.Close()

	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.Seq, &b.Body); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

// LastSeq returns the highest batch seq recorded for sceneID, or 0.
func (j *Journal) LastSeq(ctx context.Context, sceneID string) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM batches WHERE scene_id = ?
	`, sceneID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// ReadSnapshots returns every snapshot of sceneID in seq order.
func (j *Journal) ReadSnapshots(ctx context.Context, sceneID string) ([]Snapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, digest, raw_len, body FROM snapshots
		WHERE scene_id = ?
		ORDER BY seq ASC
	`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		s, err := j.scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// LatestSnapshot returns the snapshot with the highest seq, or ErrNotFound.
func (j *Journal) LatestSnapshot(ctx context.Context, sceneID string) (Snapshot, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT seq, digest, raw_len, body FROM snapshots
		WHERE scene_id = ?
		ORDER BY seq DESC LIMIT 1
	`, sceneID)
	s, err := j.scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("snapshot of %s: %w", sceneID, ErrNotFound)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (j *Journal) scanSnapshot(row scanner) (Snapshot, error) {
	var s Snapshot
	var rawLen int
	var body []byte
	if err := row.Scan(&s.Seq, &s.Digest, &rawLen, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scan snapshot: %w", err)
	}
	if rawLen == 0 {
		s.Body = []byte{}
		return s, nil
	}
	raw, err := j.dec.DecodeAll(body, make([]byte, 0, rawLen))
	if err != nil {
		return s, fmt.Errorf("decompress snapshot %d: %w", s.Seq, err)
	}
	if len(raw) != rawLen {
		return s, fmt.Errorf("snapshot %d: length %d, recorded %d", s.Seq, len(raw), rawLen)
	}
	s.Body = raw
	return s, nil
}

// ReadFailures returns failures recorded for sceneID in insertion order.
func (j *Journal) ReadFailures(ctx context.Context, sceneID string) ([]diag.Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT code, message_type, entity, component, error, recorded_at FROM failures
		WHERE scene_id = ?
		ORDER BY id ASC
	`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	defer rows.Close()

	out := []diag.Record{}
	for rows.Next() {
		r := diag.Record{SceneID: sceneID}
		var code string
		var entity, component sql.NullInt64
		var at int64
		if err := rows.Scan(&code, &r.MessageType, &entity, &component, &r.Error, &at); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		r.Code = diag.Code(code)
		r.Time = time.Unix(0, at).UTC()
		if entity.Valid {
			e := uint32(entity.Int64)
			r.Entity = &e
		}
		if component.Valid {
			c := uint32(component.Int64)
			r.Component = &c
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return out, nil
}
