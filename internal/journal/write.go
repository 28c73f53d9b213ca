package journal

import (
	"context"
	"fmt"

	"github.com/roach88/scenebridge/internal/diag"
)

// CreateScene records a scene instance. Re-creating an existing id is a no-op.
func (j *Journal) CreateScene(ctx context.Context, id, name string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO scenes (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, j.now().UnixNano())
	if err != nil {
		return fmt.Errorf("create scene: %w", err)
	}
	return nil
}

// AppendBatch records the raw bytes of batch seq. The body is copied by the
// driver, so callers may reuse it afterwards.
func (j *Journal) AppendBatch(ctx context.Context, sceneID string, seq int64, body []byte) error {
	if body == nil {
		body = []byte{}
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO batches (scene_id, seq, body)
		VALUES (?, ?, ?)
	`, sceneID, seq, body)
	if err != nil {
		return fmt.Errorf("append batch %d: %w", seq, err)
	}
	return nil
}

// WriteSnapshot records the state after batch seq. snapshot is compressed
// with zstd before it is stored.
func (j *Journal) WriteSnapshot(ctx context.Context, sceneID string, seq int64, snapshot []byte, digest string) error {
	body := []byte{}
	if len(snapshot) > 0 {
		body = j.enc.EncodeAll(snapshot, make([]byte, 0, len(snapshot)/2+16))
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO snapshots (scene_id, seq, digest, raw_len, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scene_id, seq) DO UPDATE SET
			digest = excluded.digest, raw_len = excluded.raw_len, body = excluded.body
	`, sceneID, seq, digest, len(snapshot), body)
	if err != nil {
		return fmt.Errorf("write snapshot %d: %w", seq, err)
	}
	return nil
}

// WriteFailure records a diagnostic.
func (j *Journal) WriteFailure(ctx context.Context, r diag.Record) error {
	var entity, component any
	if r.Entity != nil {
		entity = int64(*r.Entity)
	}
	if r.Component != nil {
		component = int64(*r.Component)
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO failures (scene_id, code, message_type, entity, component, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SceneID, string(r.Code), r.MessageType, entity, component, r.Error, r.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("write failure: %w", err)
	}
	return nil
}

// DeleteScene removes a scene with its batches and snapshots.
func (j *Journal) DeleteScene(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scene: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete scene %s: %w", id, ErrNotFound)
	}
	return nil
}
