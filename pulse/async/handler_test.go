package async

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseq/errors"
)

// ============================================================================
// Phone Book Test Universe
// ============================================================================
//
// Characters:
//   - Phone Company: Maintains the registry of who handles what calls
//
// Theme: HandlerRegistry is like a phone book that maps department names to
// the people who handle calls for that department. Want to reach "tech-support"?
// The phone book tells you who answers those calls.
// ============================================================================

type ticket struct {
	Caller string `json:"caller"`
	Issue  string `json:"issue"`
}

func answer(ctx context.Context, t ticket, ec *ExecContext) error {
	if t.Issue == "" {
		return errors.New("caller hung up")
	}
	return nil
}

func TestHandlerRegistry_PhoneBook(t *testing.T) {
	t.Run("phone company creates empty phone book", func(t *testing.T) {
		phoneBook := NewHandlerRegistry()
		require.NotNil(t, phoneBook)
		assert.Empty(t, phoneBook.Names())
	})

	t.Run("departments are listed alphabetically", func(t *testing.T) {
		phoneBook := NewHandlerRegistry()
		Register(phoneBook, "tech-support", answer)
		Register(phoneBook, "billing", answer)
		Register(phoneBook, "sales", answer)

		assert.Equal(t, []string{"billing", "sales", "tech-support"}, phoneBook.Names())
		assert.True(t, phoneBook.Has("billing"))
		assert.False(t, phoneBook.Has("complaints"))
	})

	t.Run("caller reaches the right department", func(t *testing.T) {
		phoneBook := NewHandlerRegistry()
		Register(phoneBook, "tech-support", answer)

		handler, ok := phoneBook.Resolve("tech-support")
		require.True(t, ok)

		payload, err := handler.Decode([]byte(`{"caller":"ada","issue":"printer on fire"}`))
		require.NoError(t, err)
		assert.Equal(t, ticket{Caller: "ada", Issue: "printer on fire"}, payload)
		assert.NoError(t, handler.Execute(context.Background(), payload, &ExecContext{}))

		silent, err := handler.Decode([]byte(`{"caller":"grace"}`))
		require.NoError(t, err)
		assert.EqualError(t, handler.Execute(context.Background(), silent, &ExecContext{}), "caller hung up")

		_, ok = phoneBook.Resolve("complaints")
		assert.False(t, ok, "unlisted department")
	})

	t.Run("listing a department twice is refused", func(t *testing.T) {
		phoneBook := NewHandlerRegistry()
		Register(phoneBook, "billing", answer)

		assert.PanicsWithValue(t, "handler already registered for job type: billing", func() {
			Register(phoneBook, "billing", answer)
		})
	})

	t.Run("department needs a name", func(t *testing.T) {
		phoneBook := NewHandlerRegistry()
		assert.Panics(t, func() { Register(phoneBook, "", answer) })
	})

	t.Run("department needs someone to answer", func(t *testing.T) {
		phoneBook := NewHandlerRegistry()
		assert.Panics(t, func() {
			Register[ticket](phoneBook, "billing", nil)
		})
	})
}

func TestTypedHandler_Decode(t *testing.T) {
	phoneBook := NewHandlerRegistry()
	Register(phoneBook, "tech-support", answer)
	handler, _ := phoneBook.Resolve("tech-support")

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"complete ticket", `{"caller":"ada","issue":"wifi"}`, false},
		{"partial ticket", `{"caller":"ada"}`, false},
		{"unknown field", `{"caller":"ada","mood":"angry"}`, true},
		{"wrong type", `{"caller":42}`, true},
		{"not json", `hello`, true},
		{"empty", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.Decode([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to decode tech-support payload")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTypedHandler_ExecuteRejectsForeignPayload(t *testing.T) {
	phoneBook := NewHandlerRegistry()
	Register(phoneBook, "tech-support", answer)
	handler, _ := phoneBook.Resolve("tech-support")

	err := handler.Execute(context.Background(), "just a string", &ExecContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got payload of type string")
}

func TestExecContext_IsFinalAttempt(t *testing.T) {
	assert.False(t, (&ExecContext{Attempt: 1, MaxAttempts: 3}).IsFinalAttempt())
	assert.False(t, (&ExecContext{Attempt: 2, MaxAttempts: 3}).IsFinalAttempt())
	assert.True(t, (&ExecContext{Attempt: 3, MaxAttempts: 3}).IsFinalAttempt())
	assert.True(t, (&ExecContext{Attempt: 1, MaxAttempts: 1}).IsFinalAttempt())
}
