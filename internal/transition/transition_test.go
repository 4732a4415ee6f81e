package transition_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinicdesk/clinicdesk/internal/transition"
)

type status = string

var rules = transition.Rules[status]{
	"draft":     {"submitted", "discarded"},
	"submitted": {"approved", "rejected"},
	"approved":  {},
	"rejected":  {},
	"discarded": {},
}

func TestRules_Can(t *testing.T) {
	assert.True(t, rules.Can("draft", "submitted"))
	assert.True(t, rules.Can("submitted", "rejected"))

	assert.False(t, rules.Can("draft", "approved"), "skipping submitted is illegal")
	assert.False(t, rules.Can("approved", "draft"), "terminal statuses have no exits")
	assert.False(t, rules.Can("unknown", "draft"), "unknown statuses have no transitions")
}

func TestRules_SelfTransitionNeverLegal(t *testing.T) {
	// Even a table that accidentally lists a self-loop must not allow it.
	buggy := transition.Rules[status]{
		"open": {"open", "closed"},
	}

	assert.False(t, buggy.Can("open", "open"))
	assert.True(t, buggy.Can("open", "closed"))
}

func TestRules_EveryListedTargetIsReachable(t *testing.T) {
	// Closure check: everything a state lists as a target must itself be a
	// known state of the table.
	for from, targets := range rules {
		for _, to := range targets {
			_, known := rules[to]
			assert.True(t, known, "state %q lists unknown target %q", from, to)
			assert.True(t, rules.Can(from, to))
		}
	}
}

func TestRules_Available(t *testing.T) {
	assert.Equal(t, []status{"discarded", "submitted"}, rules.Available("draft"), "sorted for stable display")
	assert.Empty(t, rules.Available("approved"))
	assert.Empty(t, rules.Available("unknown"))
}

func TestRules_IsTerminal(t *testing.T) {
	assert.False(t, rules.IsTerminal("draft"))
	assert.True(t, rules.IsTerminal("approved"))
	assert.True(t, rules.IsTerminal("unknown"), "unknown statuses are terminal")
}
