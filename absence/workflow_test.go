package absence_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/absence"
	"github.com/warp/absence-engine/generic"
)

func TestWorkflow_ValidateThenSecondManagerIsRefused(t *testing.T) {
	// GIVEN: A pending PaidLeave for emp, who is on m1's project
	// WHEN: m1 validates, then the unrelated manager m2 tries too
	// THEN: m1 gets affected=1, m2 gets CannotUpdate/InvalidState
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	e, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.January, 15), absence.EventPaidLeave, "dentist")
	require.NoError(t, err)
	assert.Equal(t, absence.StatusPending, e.Status)

	affected, err := f.svc.Validate(ctx, e.ID, actorOf(f.m1))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	stored, err := f.svc.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, absence.StatusAccepted, stored.Status)

	affected, err = f.svc.Validate(ctx, e.ID, actorOf(f.m2))
	assert.Equal(t, 0, affected)
	assert.ErrorIs(t, err, absence.ErrCannotUpdate)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.NotErrorIs(t, err, generic.ErrConflict)

	var cue *absence.CannotUpdateError
	require.ErrorAs(t, err, &cue)
	assert.Equal(t, absence.ReasonTerminal, cue.Reason)
	assert.Equal(t, absence.StatusAccepted, cue.Status)

	// The admin is refused the same way
	affected, err = f.svc.Validate(ctx, e.ID, actorOf(f.adm))
	assert.Equal(t, 0, affected)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestWorkflow_SecondValidateBySameManagerAffectsNothing(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	e, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.January, 17), absence.EventPaidLeave, "")
	require.NoError(t, err)

	affected, err := f.svc.Validate(ctx, e.ID, actorOf(f.m1))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	affected, err = f.svc.Validate(ctx, e.ID, actorOf(f.m1))
	assert.Equal(t, 0, affected)
	assert.ErrorIs(t, err, absence.ErrCannotUpdate)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	stored, err := f.svc.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, absence.StatusAccepted, stored.Status)
}

func TestWorkflow_DeclineIsTerminal(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	e, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.January, 16), absence.EventRemoteWork, "")
	require.NoError(t, err)

	affected, err := f.svc.Decline(ctx, e.ID, actorOf(f.adm))
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	_, err = f.svc.Validate(ctx, e.ID, actorOf(f.m1))
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	_, err = f.svc.Decline(ctx, e.ID, actorOf(f.m1))
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	stored, err := f.svc.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, absence.StatusDeclined, stored.Status)
}

func TestWorkflow_IneligibleActorsAreRefused(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	e, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.January, 17), absence.EventPaidLeave, "")
	require.NoError(t, err)

	for _, actor := range []absence.User{f.m2, f.emp} {
		affected, err := f.svc.Validate(ctx, e.ID, actorOf(actor))
		assert.Equal(t, 0, affected)
		assert.ErrorIs(t, err, absence.ErrCannotUpdate, actor.Username)
		assert.ErrorIs(t, err, generic.ErrConflict, actor.Username)
		assert.NotErrorIs(t, err, generic.ErrInvalidState, actor.Username)
	}

	stored, err := f.svc.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, absence.StatusPending, stored.Status, "refusals leave the event untouched")
}

func TestWorkflow_AdminCannotActWithoutActiveAssignment(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	e, err := f.svc.CreateEvent(ctx, f.idle.ID, day(2024, time.January, 15), absence.EventRemoteWork, "")
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, e.ID, actorOf(f.adm))
	assert.ErrorIs(t, err, absence.ErrCannotUpdate)
	assert.ErrorIs(t, err, generic.ErrConflict)
}

func TestWorkflow_UnknownEvent(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())

	affected, err := f.svc.Validate(context.Background(), generic.NewID(), actorOf(f.adm))

	assert.Equal(t, 0, affected)
	assert.ErrorIs(t, err, absence.ErrEventNotFound)
	assert.True(t, generic.IsNotFound(err))
}

func TestWorkflow_ConcurrentValidationsExactlyOneWins(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	e, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.February, 5), absence.EventPaidLeave, "")
	require.NoError(t, err)

	var wins, refusals atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := actorOf(f.m1)
			if i%2 == 0 {
				actor = actorOf(f.adm)
			}
			affected, err := f.svc.Validate(ctx, e.ID, actor)
			if err == nil && affected == 1 {
				wins.Add(1)
				return
			}
			if generic.IsInvalidState(err) {
				refusals.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(19), refusals.Load())
}

func TestWorkflow_TransitionsAreAudited(t *testing.T) {
	f := newFixture(t, absence.DefaultPolicy())
	ctx := context.Background()

	accepted, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.January, 22), absence.EventPaidLeave, "")
	require.NoError(t, err)
	declined, err := f.svc.CreateEvent(ctx, f.emp.ID, day(2024, time.January, 23), absence.EventRemoteWork, "")
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, accepted.ID, actorOf(f.m1))
	require.NoError(t, err)
	_, err = f.svc.Decline(ctx, declined.ID, actorOf(f.adm))
	require.NoError(t, err)

	entries, err := f.svc.AuditTrail(ctx, generic.AuditFilter{
		UserID:  &f.emp.ID,
		Actions: []generic.AuditAction{generic.AuditEventValidated, generic.AuditEventDeclined},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, generic.AuditEventValidated, entries[0].Action)
	assert.Equal(t, accepted.ID, entries[0].SubjectID)
	assert.Equal(t, f.m1.ID, entries[0].ActorID)
	assert.Equal(t, string(absence.StatusAccepted), entries[0].Payload["to"])

	assert.Equal(t, generic.AuditEventDeclined, entries[1].Action)
	assert.Equal(t, f.adm.ID, entries[1].ActorID)
}
