package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit entries inside the caller's transaction so the entry
// commits or rolls back with the mutation it records.
type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Entry is one append call. Actor fields are optional for system actions
// like the orphan sweep.
type Entry struct {
	ActorID    string
	ActorType  string
	ActionType string
	EntityType string
	EntityID   string
	EntityName string
	Details    Payload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if e.ActionType == "" || e.EntityType == "" {
		return fmt.Errorf("activity entry requires action_type and entity_type")
	}
	var details any
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal activity details: %w", err)
		}
		details = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO activity_log(actor_id,actor_type,action_type,entity_type,entity_id,entity_name,details_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		nullable(e.ActorID), nullable(e.ActorType), e.ActionType, e.EntityType, e.EntityID, nullable(e.EntityName), details, ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
