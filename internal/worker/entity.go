package worker

import "time"

type Type string

const (
	TypeHuman Type = "human"
	TypeAgent Type = "agent"
)

// Capability is the authoritative capacity/skill record for a worker.
// CurrentLoad is mutated only through the Registry, under the worker's
// lock, so 0 <= CurrentLoad <= MaxConcurrentAssignments holds after
// every transition.
type Capability struct {
	ID                       string    `yaml:"id" json:"worker_id"`
	DisplayName              string    `yaml:"display_name" json:"display_name"`
	Type                     Type      `yaml:"type" json:"worker_type"`
	Skills                   []string  `yaml:"skills" json:"skills"`
	MaxConcurrentAssignments int       `yaml:"max_concurrent_assignments" json:"max_concurrent_assignments"`
	CurrentLoad              int       `yaml:"current_load" json:"current_load"`
	Disabled                 bool      `yaml:"disabled" json:"disabled"`
	RegisteredAt             time.Time `yaml:"registered_at" json:"registered_at"`
	UpdatedAt                time.Time `yaml:"updated_at" json:"updated_at"`
}

// Available reports whether the worker can admit another assignment.
func (c *Capability) Available() bool {
	return !c.Disabled && c.CurrentLoad < c.MaxConcurrentAssignments
}

// HasSkill reports exact-string membership; skills are case sensitive.
func (c *Capability) HasSkill(skill string) bool {
	for _, s := range c.Skills {
		if s == skill {
			return true
		}
	}
	return false
}
