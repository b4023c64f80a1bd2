package verify

import (
	"strings"
	"testing"
)

func TestNewChallenge(t *testing.T) {
	ch := NewChallenge("svd", "auditor", SeverityMajor, "tolerance looks loose")

	if !strings.HasPrefix(ch.ID, "ch-") {
		t.Errorf("id = %q, want ch- prefix", ch.ID)
	}
	if ch.Status != ChallengeStatusPending {
		t.Errorf("status = %s, want pending", ch.Status)
	}
	if ch.TargetUnit != "svd" || ch.RaisedBy != "auditor" {
		t.Errorf("unexpected fields: %+v", ch)
	}
	if ch.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if err := ch.Validate(); err != nil {
		t.Errorf("fresh challenge should validate: %v", err)
	}
}

func TestChallengeValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Challenge)
	}{
		{"missing id", func(c *Challenge) { c.ID = "" }},
		{"invalid target unit", func(c *Challenge) { c.TargetUnit = "Not Valid" }},
		{"unknown severity", func(c *Challenge) { c.Severity = "apocalyptic" }},
		{"missing description", func(c *Challenge) { c.Description = "" }},
		{"unknown status", func(c *Challenge) { c.Status = "limbo" }},
		{"closed without resolution", func(c *Challenge) { c.Status = ChallengeStatusResolved }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChallenge("svd", "auditor", SeverityMinor, "something is off")
			tt.mutate(ch)
			if err := ch.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestChallengeValidate_ClosedWithResolution(t *testing.T) {
	ch := NewChallenge("svd", "auditor", SeverityCritical, "wrong sign convention")
	ch.Status = ChallengeStatusWontfix
	ch.Resolution = "deviation accepted under the approximate bound"

	if err := ch.Validate(); err != nil {
		t.Errorf("closed challenge with resolution should validate: %v", err)
	}
}

func TestChallengeStatusTransitions(t *testing.T) {
	if !ChallengeStatusPending.CanTransitionTo(ChallengeStatusResolved) {
		t.Error("pending -> resolved should be allowed")
	}
	if !ChallengeStatusPending.CanTransitionTo(ChallengeStatusWontfix) {
		t.Error("pending -> wontfix should be allowed")
	}
	if ChallengeStatusResolved.CanTransitionTo(ChallengeStatusPending) {
		t.Error("closed states are terminal")
	}
	if ChallengeStatusWontfix.CanTransitionTo(ChallengeStatusResolved) {
		t.Error("closed states are terminal")
	}
}

func TestChallengeStatusIsOpen(t *testing.T) {
	if !ChallengeStatusPending.IsOpen() {
		t.Error("pending should be open")
	}
	if ChallengeStatusResolved.IsOpen() || ChallengeStatusWontfix.IsOpen() {
		t.Error("closed statuses should not be open")
	}
}

func TestSeverityIsValid(t *testing.T) {
	for _, s := range []Severity{SeverityCritical, SeverityMajor, SeverityMinor} {
		if !s.IsValid() {
			t.Errorf("severity %q should be valid", s)
		}
	}
	if Severity("mild").IsValid() {
		t.Error("unknown severity should be invalid")
	}
}
