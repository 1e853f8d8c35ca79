package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobOrderReminder JobKind = "order_reminder"
	JobMenuIndexSync JobKind = "menu_index_sync"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is a durable delayed task.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Kind       JobKind         `json:"kind"`
	ChannelKey ChannelKey      `json:"channel_key"`
	Payload    json.RawMessage `json:"payload"`
	FireAt     time.Time       `json:"fire_at"`
	Status     JobStatus       `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type ReminderJob struct {
	OrderID  int64 `json:"order_id"`
	BranchID int64 `json:"branch_id"`
}

// IndexSyncJob lists the menu items whose index entries must be refreshed
// for one branch.
type IndexSyncJob struct {
	BranchID int64   `json:"branch_id"`
	ItemIDs  []int64 `json:"item_ids"`
}
