package entity

import "time"

// LogAction is an entry kind of the append-only process log
type LogAction string

const (
	LogStart    LogAction = "start"
	LogApprove  LogAction = "approve"
	LogReject   LogAction = "reject"
	LogBack     LogAction = "back"
	LogReset    LogAction = "reset"
	LogCancel   LogAction = "cancel"
	LogReassign LogAction = "reassign"
)

// ProcessLog records every decision and structural change of an instance.
// Process rows are reset by a back transition; the log keeps what they held.
type ProcessLog struct {
	ID              int64     `json:"id"`
	InstanceID      int64     `json:"instance_id"`
	ProcessID       *int64    `json:"process_id,omitempty"`
	NodeIndex       int       `json:"node_index"`
	Action          LogAction `json:"action"`
	ActorID         string    `json:"actor_id"`
	Comment         string    `json:"comment,omitempty"`
	BackToNodeIndex *int      `json:"back_to_node_index,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
