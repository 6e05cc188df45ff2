package assignment

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the full state machine. A transition is legal iff it
// appears here; everything else is rejected by a single lookup.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
		StatusCancelled: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) CanTransitionTo(next Status) bool {
	return transitions[s][next]
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether the assignment still holds its worker's slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Assignment binds one task to one worker. Records are append-only:
// they are transitioned, never deleted. EstimatedEffort is a snapshot
// taken from the task at creation time.
type Assignment struct {
	ID              string         `yaml:"id" json:"assignment_id"`
	TaskID          string         `yaml:"task_id" json:"task_id"`
	WorkerID        string         `yaml:"worker_id" json:"worker_id"`
	Status          Status         `yaml:"status" json:"status"`
	AssignedAt      time.Time      `yaml:"assigned_at" json:"assigned_at"`
	AcceptedAt      *time.Time     `yaml:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	CompletedAt     *time.Time     `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	CancelledAt     *time.Time     `yaml:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	EstimatedEffort time.Duration  `yaml:"estimated_effort" json:"estimated_effort"`
	ActualEffort    *time.Duration `yaml:"actual_effort,omitempty" json:"actual_effort,omitempty"`
}
