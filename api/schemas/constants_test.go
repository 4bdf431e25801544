package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/pagepilot/api/schemas"
)

// TestConstants pins values shared with the completion backend and the
// inference endpoint.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		{"ActionResultPrefix", schemas.ActionResultPrefix, "ACTION_RESULT:"},
		{"ClientActionPrefix", schemas.ClientActionPrefix, "ACTION_CLIENT_"},
		{"ServerActionPrefix", schemas.ServerActionPrefix, "ACTION_SERVER_"},

		{"RoleUser", schemas.RoleUser, "user"},
		{"RoleAssistant", schemas.RoleAssistant, "assistant"},
		{"PartText", schemas.PartText, "text"},
		{"PartHTML", schemas.PartHTML, "html"},

		{"ActionClick", schemas.ActionClick, "click"},
		{"ActionInput", schemas.ActionInput, "input"},
		{"ActionTypeText", schemas.ActionTypeText, "type"},
		{"ActionSelect", schemas.ActionSelect, "select"},
		{"ActionScroll", schemas.ActionScroll, "scroll"},
		{"ActionWait", schemas.ActionWait, "wait"},
		{"ActionNavigate", schemas.ActionNavigate, "navigate"},
		{"ActionComplete", schemas.ActionComplete, "complete"},
		{"ActionError", schemas.ActionError, "error"},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.EqualValues(t, tt.expected, tt.constant)
		})
	}
}

func TestActionType_IsTerminal(t *testing.T) {
	assert.True(t, schemas.ActionComplete.IsTerminal())
	assert.True(t, schemas.ActionError.IsTerminal())
	for _, a := range []schemas.ActionType{schemas.ActionClick, schemas.ActionInput, schemas.ActionTypeText,
		schemas.ActionSelect, schemas.ActionScroll, schemas.ActionWait, schemas.ActionNavigate, "teleport"} {
		assert.False(t, a.IsTerminal(), a)
	}
}
