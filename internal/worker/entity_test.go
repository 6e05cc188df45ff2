package worker

import "testing"

func TestCapability_Available(t *testing.T) {
	tests := []struct {
		name string
		c    Capability
		want bool
	}{
		{"no load", Capability{MaxConcurrentAssignments: 2, CurrentLoad: 0}, true},
		{"partial load", Capability{MaxConcurrentAssignments: 2, CurrentLoad: 1}, true},
		{"at capacity", Capability{MaxConcurrentAssignments: 2, CurrentLoad: 2}, false},
		{"disabled", Capability{MaxConcurrentAssignments: 2, CurrentLoad: 0, Disabled: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Available(); got != tt.want {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCapability_HasSkill(t *testing.T) {
	c := Capability{Skills: []string{"go", "terraform"}}

	if !c.HasSkill("go") {
		t.Error("expected go to match")
	}
	if c.HasSkill("Go") {
		t.Error("skill matching must be exact, Go should not match go")
	}
	if c.HasSkill("rust") {
		t.Error("rust should not match")
	}
}
