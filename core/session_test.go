package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_AppendAndSnapshot(t *testing.T) {
	s := NewSession("s1")
	s.Append(NewUserTurn("hello"))
	s.Append(NewAssistantTurn("hi"))

	require.Equal(t, 2, s.Len())

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, TurnUser, snap[0].Kind)
	assert.Equal(t, TurnAssistant, snap[1].Kind)

	// Later appends must not leak into an already taken snapshot.
	s.Append(NewUserTurn("again"))
	assert.Len(t, snap, 2)
	assert.Equal(t, 3, s.Len())
}

func TestSession_HistoryTrim(t *testing.T) {
	s := NewSession("s1")
	for i := 0; i < 10; i++ {
		s.Append(NewUserTurn(fmt.Sprintf("msg-%d", i)))
	}

	tests := []struct {
		name     string
		keepHead int
		window   int
		want     []string
	}{
		{
			name:     "no trimming when window disabled",
			keepHead: 2,
			window:   0,
			want:     []string{"msg-0", "msg-1", "msg-2", "msg-3", "msg-4", "msg-5", "msg-6", "msg-7", "msg-8", "msg-9"},
		},
		{
			name:     "no trimming under window",
			keepHead: 2,
			window:   20,
			want:     []string{"msg-0", "msg-1", "msg-2", "msg-3", "msg-4", "msg-5", "msg-6", "msg-7", "msg-8", "msg-9"},
		},
		{
			name:     "head anchored plus recent tail",
			keepHead: 2,
			window:   5,
			want:     []string{"msg-0", "msg-1", "msg-7", "msg-8", "msg-9"},
		},
		{
			name:     "zero head keeps only the tail",
			keepHead: 0,
			window:   3,
			want:     []string{"msg-7", "msg-8", "msg-9"},
		},
		{
			name:     "head clamped to window",
			keepHead: 8,
			window:   4,
			want:     []string{"msg-0", "msg-1", "msg-2", "msg-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.History(tt.keepHead, tt.window)
			texts := make([]string, len(got))
			for i, turn := range got {
				texts[i] = turn.Text
			}
			assert.Equal(t, tt.want, texts)
		})
	}

	// Trimming never mutates the stored turns.
	assert.Equal(t, 10, s.Len())
}

func TestSession_AppendCapped(t *testing.T) {
	s := NewSession("s1")

	require.NoError(t, s.AppendCapped(NewUserTurn("one"), 2))
	require.NoError(t, s.AppendCapped(NewUserTurn("two"), 2))

	err := s.AppendCapped(NewUserTurn("three"), 2)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, s.Len())

	// max <= 0 disables the ceiling.
	require.NoError(t, s.AppendCapped(NewUserTurn("three"), 0))
}

func TestSession_State(t *testing.T) {
	s := NewSession("s1")

	_, ok := s.GetState("city")
	assert.False(t, ok)

	s.SetState("city", "Moscow")
	v, ok := s.GetState("city")
	require.True(t, ok)
	assert.Equal(t, "Moscow", v)
}

func TestSession_Clone(t *testing.T) {
	s := NewSession("s1")
	s.Append(NewUserTurn("hello"))
	s.SetState("k", 1)

	c := s.Clone()
	c.Append(NewUserTurn("clone only"))
	c.SetState("k", 2)

	assert.Equal(t, 1, s.Len())
	v, _ := s.GetState("k")
	assert.Equal(t, 1, v)
}

func TestRoundLimiter(t *testing.T) {
	rl := NewRoundLimiter(2)

	require.NoError(t, rl.Increment())
	require.NoError(t, rl.Increment())
	assert.Equal(t, 2, rl.Count())

	err := rl.Increment()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxTurnsExceeded)
	assert.Equal(t, 3, rl.Count())
}

func TestRoundLimiter_Unlimited(t *testing.T) {
	rl := NewRoundLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Increment())
	}
	assert.Equal(t, 100, rl.Count())
}

func TestTurnConstructors(t *testing.T) {
	call := FunctionCall{ID: "c1", Name: "search_tours", Arguments: `{"country":"Турция"}`}

	tc := NewToolCallTurn(call)
	require.NotNil(t, tc.Call)
	assert.Equal(t, TurnToolCall, tc.Kind)
	assert.NotEmpty(t, tc.ID)
	assert.False(t, tc.IsMessage())

	res := NewErrorResult(call, "required parameter \"date_from\" is missing")
	tr := NewToolResultTurn(res)
	require.NotNil(t, tr.Result)
	assert.Equal(t, "c1", tr.Result.CallID)
	assert.False(t, tr.Result.Success)
	assert.NotEmpty(t, tr.Result.Error)

	ok := NewSuccessResult(call, map[string]any{"tours": 2})
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)

	assert.True(t, NewUserTurn("hi").IsMessage())
	assert.True(t, NewAssistantTurn("hey").IsMessage())
}
