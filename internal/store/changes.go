package store

import (
	"context"
	"encoding/json"
	"fmt"

	"brand-asset-orchestrator/internal/models"
)

// ChangeChannel is the Postgres NOTIFY channel fed by the job table triggers.
const ChangeChannel = "job_record_changes"

type changePayload struct {
	Table  string `json:"table"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ListenChanges holds a dedicated connection on LISTEN and invokes fn for
// every job record update until ctx is cancelled.
func (s *Store) ListenChanges(ctx context.Context, fn func(models.JobChange)) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN "+ChangeChannel)
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		if change, ok := decodeChange(n.Payload); ok {
			fn(change)
		}
	}
}

func decodeChange(payload string) (models.JobChange, bool) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.ID == "" {
		return models.JobChange{}, false
	}
	kind, ok := models.KindForTable(p.Table)
	if !ok {
		return models.JobChange{}, false
	}
	return models.JobChange{Kind: kind, ID: p.ID, Status: p.Status}, true
}
