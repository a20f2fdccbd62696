package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shuttle-av/shuttle/internal/model"
)

type fakeClock struct {
	now time.Time
	day string
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) Today() string  { return f.day }

func newTestTracker(t *testing.T, clock *fakeClock) *Tracker {
	t.Helper()
	trk, err := Open(t.TempDir(), clock, time.Hour)
	require.NoError(t, err)
	return trk
}

func TestRegister_FreshRecordIsPending(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	rec := trk.Register("/src/a.txt", "/quarantine/a.txt", 1024, "hash-a")
	require.Equal(t, model.StatusPending, rec.Status)

	snap := trk.Snapshot()
	require.EqualValues(t, 1, snap.Pending.Count)
	require.EqualValues(t, 1024, snap.Pending.VolumeBytes)
}

func TestRegister_IdempotentReingest(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	rec := trk.Register("/src/a.txt", "/quarantine/a.txt", 10, "hash-a")
	require.NoError(t, trk.Complete(CompleteParams{Hash: "hash-a", Outcome: model.OutcomeSuccess, DestinationPath: "/dest/a.txt"}))

	again := trk.Register("/src/a-copy.txt", "/quarantine/a-copy.txt", 10, "hash-a")
	require.Equal(t, model.StatusCompleted, again.Status)
	require.Equal(t, rec.Hash, again.Hash)

	snap := trk.Snapshot()
	require.EqualValues(t, 1, snap.Successful.Count, "a second registration of identical content must not double-count")
}

func TestComplete_UpdatesAggregateAndClearsPending(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	trk.Register("/src/a.txt", "/q/a.txt", 500, "hash-a")
	require.NoError(t, trk.Complete(CompleteParams{Hash: "hash-a", Outcome: model.OutcomeSuspect}))

	snap := trk.Snapshot()
	require.Zero(t, snap.Pending.Count)
	require.EqualValues(t, 1, snap.Suspect.Count)
	require.EqualValues(t, 500, snap.Suspect.VolumeBytes)
}

func TestComplete_TwiceOnSameHashPanics(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	trk.Register("/src/a.txt", "/q/a.txt", 10, "hash-a")
	require.NoError(t, trk.Complete(CompleteParams{Hash: "hash-a", Outcome: model.OutcomeSuccess}))

	require.Panics(t, func() {
		trk.Complete(CompleteParams{Hash: "hash-a", Outcome: model.OutcomeSuccess}) //nolint:errcheck
	})
}

func TestComplete_UnknownHash(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	require.Error(t, trk.Complete(CompleteParams{Hash: "missing", Outcome: model.OutcomeSuccess}))
}

func TestClose_InterruptedPendingBecomesFailed(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	trk.Register("/src/a.txt", "/q/a.txt", 10, "hash-a")

	require.NoError(t, trk.Close(PendingPolicyInterrupted, nil))

	records := trk.Records()
	rec := records["hash-a"]
	require.Equal(t, model.StatusCompleted, rec.Status)
	require.Equal(t, model.OutcomeFailed, rec.Outcome)
	require.Equal(t, "interrupted", rec.ErrorReason)
	require.Empty(t, rec.DestinationPath)

	snap := trk.Snapshot()
	require.Zero(t, snap.Pending.Count)
	require.EqualValues(t, 1, snap.Failed.Count)
}

func TestClose_ReconciledPendingBecomesSuccessWithDestination(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	trk.Register("/src/a.txt", "/q/a.txt", 10, "hash-a")

	reconcile := func(rec model.FileRecord) (Reconciliation, bool) {
		return Reconciliation{Outcome: model.OutcomeSuccess, DestinationPath: "/dest/a.txt"}, true
	}

	require.NoError(t, trk.Close(PendingPolicyInterrupted, reconcile))

	rec := trk.Records()["hash-a"]
	require.Equal(t, model.OutcomeSuccess, rec.Outcome)
	require.Equal(t, "/dest/a.txt", rec.DestinationPath, "a reconciled Success record must carry its destination path")

	snap := trk.Snapshot()
	require.EqualValues(t, 1, snap.Successful.Count)
	require.Zero(t, snap.Failed.Count)
}

func TestConservation_PendingPlusCompletedEqualsRegistered(t *testing.T) {
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}
	trk := newTestTracker(t, clock)

	trk.Register("/src/a.txt", "/q/a.txt", 10, "hash-a")
	trk.Register("/src/b.txt", "/q/b.txt", 20, "hash-b")
	require.NoError(t, trk.Complete(CompleteParams{Hash: "hash-a", Outcome: model.OutcomeSuccess}))

	snap := trk.Snapshot()
	registered := snap.RegisteredTotal()
	completed := snap.CompletedTotal()

	require.Equal(t, registered.Count, completed.Count+snap.Pending.Count)
	require.Equal(t, registered.VolumeBytes, completed.VolumeBytes+snap.Pending.VolumeBytes)
}

func TestOpen_ReloadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	clock := &fakeClock{now: time.Now(), day: "2026-07-31"}

	trk, err := Open(dir, clock, time.Hour)
	require.NoError(t, err)
	trk.Register("/src/a.txt", "/q/a.txt", 10, "hash-a")
	require.NoError(t, trk.Persist())

	reopened, err := Open(dir, clock, time.Hour)
	require.NoError(t, err)

	records := reopened.Records()
	rec, ok := records["hash-a"]
	require.True(t, ok)
	require.Equal(t, model.StatusPending, rec.Status)
}

func TestOpen_ClosesOutPriorDay(t *testing.T) {
	dir := t.TempDir()
	yesterday := &fakeClock{now: time.Now(), day: "2026-07-30"}

	trk, err := Open(dir, yesterday, time.Hour)
	require.NoError(t, err)
	trk.Register("/src/a.txt", "/q/a.txt", 10, "hash-a")
	require.NoError(t, trk.Persist())

	today := &fakeClock{now: time.Now(), day: "2026-07-31"}
	reopened, err := Open(dir, today, time.Hour)
	require.NoError(t, err)

	// Yesterday's pending record must not be reloaded into today's
	// active set.
	require.Empty(t, reopened.Records())
}
