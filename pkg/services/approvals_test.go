package services

import (
	"sync"
	"testing"
	"time"

	"github.com/patchwell/overseer/pkg/models"
	"github.com/patchwell/overseer/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAndResolveApproval(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	approval, err := env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Title:       "Deploy to production?",
		RequestedBy: "workflow",
		ExpiresIn:   time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusPending, approval.Status)
	assert.NotEmpty(t, approval.Token)
	assert.Equal(t, env.clock.Now().UTC().Add(time.Hour), approval.ExpiresAt)

	resolved, err := env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
		Token:        approval.Token,
		Decision:     models.DecisionApproved,
		ResolvedBy:   "user-a",
		ResponseNote: "lgtm",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ApprovalStatusApproved, resolved.Status)
	assert.Equal(t, "user-a", resolved.ResolvedBy)
	assert.Equal(t, "lgtm", resolved.ResponseNote)
	require.NotNil(t, resolved.RespondedAt)
}

func TestRequestApprovalOnTerminalExecutionFails(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	_, err := env.coordinator.transition(t.Context(), execution.ID, models.ExecutionStatusCompleted, nil)
	require.NoError(t, err)

	_, err = env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Title:       "Too late",
	})
	require.ErrorIs(t, err, ErrExecutionNotActive)
}

func TestResolveUnknownTokenFails(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)

	_, err := env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
		Token:    "no-such-token",
		Decision: models.DecisionApproved,
	})
	require.ErrorIs(t, err, persistence.ErrApprovalNotFound)
}

func TestResolveTwiceFailsWithAlreadyResolved(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	approval, err := env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Title:       "Gate",
		ExpiresIn:   time.Hour,
	})
	require.NoError(t, err)

	_, err = env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
		Token:      approval.Token,
		Decision:   models.DecisionRejected,
		ResolvedBy: "user-a",
	})
	require.NoError(t, err)

	_, err = env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
		Token:      approval.Token,
		Decision:   models.DecisionApproved,
		ResolvedBy: "user-b",
	})
	require.ErrorIs(t, err, ErrApprovalAlreadyResolved)

	// First resolution wins; the record is unchanged.
	unchanged, err := env.approvals.Get(t.Context(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusRejected, unchanged.Status)
	assert.Equal(t, "user-a", unchanged.ResolvedBy)
}

func TestConcurrentResolveHasSingleWinner(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	approval, err := env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Title:       "Gate",
		ExpiresIn:   time.Hour,
	})
	require.NoError(t, err)

	const resolvers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for i := range resolvers {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			decision := models.DecisionApproved
			if i%2 == 1 {
				decision = models.DecisionRejected
			}

			_, err := env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
				Token:    approval.Token,
				Decision: decision,
			})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case IsConflictError(err):
				conflicts++
			default:
				t.Errorf("unexpected resolve error: %v", err)
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, resolvers-1, conflicts)
}

func TestResolveAfterExpiryMarksExpired(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	approval, err := env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Title:       "Gate",
		ExpiresIn:   60 * time.Second,
	})
	require.NoError(t, err)

	env.clock.Advance(61 * time.Second)

	_, err = env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
		Token:      approval.Token,
		Decision:   models.DecisionApproved,
		ResolvedBy: "user-a",
	})
	require.ErrorIs(t, err, ErrApprovalExpired)

	expired, err := env.approvals.Get(t.Context(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, expired.Status)
}

func TestExpireDueSweepsPendingRequests(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)
	execution := env.startRunning(t)

	short, err := env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s1",
		Title:       "Short gate",
		ExpiresIn:   time.Minute,
	})
	require.NoError(t, err)

	long, err := env.approvals.Request(t.Context(), RequestApprovalRequest{
		ExecutionID: execution.ID,
		StepID:      "s2",
		Title:       "Long gate",
		ExpiresIn:   time.Hour,
	})
	require.NoError(t, err)

	env.clock.Advance(2 * time.Minute)

	expired, err := env.approvals.ExpireDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	// The sweep is idempotent.
	expired, err = env.approvals.ExpireDue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	shortAfter, err := env.approvals.Get(t.Context(), short.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusExpired, shortAfter.Status)

	longAfter, err := env.approvals.Get(t.Context(), long.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, longAfter.Status)
}

func TestResolveWithInvalidDecision(t *testing.T) {
	env := newTestEnv(t, StepFailureContinue)

	_, err := env.approvals.Resolve(t.Context(), ResolveApprovalRequest{
		Token:    "anything",
		Decision: models.ApprovalDecision("maybe"),
	})
	require.ErrorIs(t, err, ErrInvalidDecision)
}
