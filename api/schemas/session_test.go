package schemas_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{ String() string }
		expected string
	}{
		{"StatusRunning", schemas.StatusRunning, "RUNNING"},
		{"StatusWaitingHuman", schemas.StatusWaitingHuman, "WAITING_HUMAN"},
		{"ActionWait", schemas.ActionWaitForSelector, "wait_for_selector"},
		{"ActionAssert", schemas.ActionAssertURLIncludes, "assert_url_includes"},
	}
	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.constant.String())
		})
	}
}

func TestSession_Transitions(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		from, to schemas.SessionStatus
		ok       bool
	}{
		{schemas.StatusRunning, schemas.StatusCompleted, true},
		{schemas.StatusRunning, schemas.StatusWaitingHuman, true},
		{schemas.StatusWaitingHuman, schemas.StatusRunning, true},
		{schemas.StatusWaitingHuman, schemas.StatusStopped, true},
		{schemas.StatusWaitingHuman, schemas.StatusCompleted, false},
		{schemas.StatusCompleted, schemas.StatusRunning, false},
		{schemas.StatusFailed, schemas.StatusStopped, false},
		{schemas.StatusStopped, schemas.StatusRunning, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.ok, schemas.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSession_TransitionSetsCompletedAt(t *testing.T) {
	s := schemas.NewSession("s1", "https://example.com", []string{"login"}, nil, 5)
	assert.Nil(t, s.Snapshot().CompletedAt)

	require.NoError(t, s.Transition(schemas.StatusWaitingHuman))
	assert.NotNil(t, s.Snapshot().CompletedAt)

	require.NoError(t, s.Transition(schemas.StatusRunning))
	assert.Nil(t, s.Snapshot().CompletedAt)

	require.NoError(t, s.Fail("step timeout"))
	assert.Equal(t, "step timeout", s.FailureReason())
	assert.ErrorIs(t, s.Transition(schemas.StatusRunning), schemas.ErrInvalidTransition)
}

func TestSession_StepsAreContiguousCopies(t *testing.T) {
	s := schemas.NewSession("s1", "https://example.com", []string{"g"}, nil, 5)
	require.NoError(t, s.AppendStep(schemas.Step{Number: 1, Reasoning: "first"}))
	assert.Error(t, s.AppendStep(schemas.Step{Number: 3}), "gaps are rejected")

	steps := s.Steps()
	steps[0].Reasoning = "mutated"
	assert.Equal(t, "first", s.Steps()[0].Reasoning, "Steps must return a copy")

	last, ok := s.LastStep()
	require.True(t, ok)
	assert.Equal(t, 1, last.Number)
}

func TestSession_ConcurrentReaders(t *testing.T) {
	s := schemas.NewSession("s1", "https://example.com", []string{"g"}, nil, 50)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 50; i++ {
			_ = s.AppendStep(schemas.Step{Number: i})
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := s.Snapshot()
				for k, st := range snap.Steps {
					if st.Number != k+1 {
						t.Errorf("non-contiguous snapshot at %d", k)
					}
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.StepCount())
}

func TestNeedsHuman(t *testing.T) {
	assert.True(t, schemas.NeedsHuman("reCAPTCHA image challenge requires human intervention"))
	assert.True(t, schemas.NeedsHuman("Requires HUMAN Intervention"))
	assert.False(t, schemas.NeedsHuman("Element not found: #x"))
}

func TestNetworkEvent_Predicates(t *testing.T) {
	ev := schemas.NetworkEvent{Timestamp: fixedTime(t), Method: "POST", URL: "https://x/api/login"}
	assert.False(t, ev.Matched())
	assert.False(t, ev.IsSuccess())

	ev.Status = 204
	assert.True(t, ev.Matched())
	assert.True(t, ev.IsSuccess())

	failed := schemas.NetworkEvent{FailureReason: "net::ERR_ABORTED"}
	assert.True(t, failed.Matched())
	assert.False(t, failed.IsSuccess())
}
