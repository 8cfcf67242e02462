package migrate

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/pders01/subwatch/internal/storage"
)

var markerBucket = []byte("test_markers")

func setupStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// markerStep is applied once its marker key exists. calls counts Apply runs.
func markerStep(version int, calls map[int]int, fail error) Step {
	key := []byte(fmt.Sprintf("v%d", version))
	return Step{
		Version: version,
		Name:    fmt.Sprintf("marker_%d", version),
		Applied: func(tx *bolt.Tx) (bool, error) {
			b := tx.Bucket(markerBucket)
			return b != nil && b.Get(key) != nil, nil
		},
		Apply: func(tx *bolt.Tx) error {
			calls[version]++
			b, err := tx.CreateBucketIfNotExists(markerBucket)
			if err != nil {
				return err
			}
			if err := b.Put(key, []byte("done")); err != nil {
				return err
			}
			return fail
		},
	}
}

func versions(q *Queue) []int {
	var out []int
	for _, s := range q.Steps() {
		out = append(out, s.Version)
	}
	return out
}

func TestPipeline_RunsAllPendingSteps(t *testing.T) {
	store := setupStore(t)
	calls := map[int]int{}
	p, err := New(store, []Step{
		markerStep(2, calls, nil),
		markerStep(3, calls, nil),
		markerStep(4, calls, nil),
		markerStep(5, calls, nil),
	})
	require.NoError(t, err)

	q, err := p.Plan(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, versions(q))

	var statuses []Status
	for {
		out := p.RunNext(q)
		statuses = append(statuses, out.Status)
		require.Nil(t, out.Err)
		require.NotNil(t, out.Step)
		assert.Equal(t, out.Step.Version, out.Version, "marker advances with each step")
		if out.Status == Done {
			break
		}
	}
	assert.Equal(t, []Status{Succeeded, Succeeded, Succeeded, Done}, statuses)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 5, version)
	assert.Equal(t, map[int]int{2: 1, 3: 1, 4: 1, 5: 1}, calls)

	// Planning again finds nothing.
	q, err = p.Plan(version)
	require.NoError(t, err)
	assert.Zero(t, q.Len())
	q, err = p.Plan(0)
	require.NoError(t, err)
	assert.Zero(t, q.Len(), "preconditions hold even without the marker")
}

func TestPipeline_FailureHaltsQueue(t *testing.T) {
	store := setupStore(t)
	calls := map[int]int{}
	boom := errors.New("boom")
	steps := []Step{
		markerStep(2, calls, nil),
		markerStep(3, calls, nil),
		markerStep(4, calls, boom),
		markerStep(5, calls, nil),
	}
	p, err := New(store, steps)
	require.NoError(t, err)

	q, err := p.Plan(0)
	require.NoError(t, err)

	err = p.RunAll(q, nil)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 4, stepErr.Version)
	assert.ErrorIs(t, err, boom)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, version, "marker stays at the last successful step")
	assert.Zero(t, calls[5], "steps after the failure never run")

	// The failed step's writes were rolled back with its version bump.
	q2, err := p.Plan(version)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 5}, versions(q2))

	// The halted queue does not run anything else.
	out := p.RunNext(q)
	assert.Equal(t, Failed, out.Status)
	assert.Nil(t, out.Step)
	assert.Equal(t, stepErr, out.Err)
	assert.Equal(t, 1, calls[4])
	assert.Equal(t, stepErr, q.Failure())
}

func TestPipeline_ResumesAfterFixedFailure(t *testing.T) {
	store := setupStore(t)
	calls := map[int]int{}
	failing, err := New(store, []Step{
		markerStep(2, calls, nil),
		markerStep(3, calls, errors.New("disk full")),
	})
	require.NoError(t, err)

	q, err := failing.Pending()
	require.NoError(t, err)
	require.Error(t, failing.RunAll(q, nil))

	fixed, err := New(store, []Step{
		markerStep(2, calls, nil),
		markerStep(3, calls, nil),
	})
	require.NoError(t, err)

	q, err = fixed.Pending()
	require.NoError(t, err)
	assert.Equal(t, []int{3}, versions(q))

	var seen []Outcome
	require.NoError(t, fixed.RunAll(q, func(o Outcome) { seen = append(seen, o) }))
	require.Len(t, seen, 1)
	assert.Equal(t, Done, seen[0].Status)
	assert.Equal(t, 1, calls[2], "step 2 is not rerun")
}

func TestPipeline_SkipsStepsAppliedOutOfBand(t *testing.T) {
	store := setupStore(t)
	require.NoError(t, store.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(markerBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte("v3"), []byte("manual"))
	}))

	calls := map[int]int{}
	p, err := New(store, []Step{markerStep(2, calls, nil), markerStep(3, calls, nil), markerStep(4, calls, nil)})
	require.NoError(t, err)

	q, err := p.Plan(0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, versions(q))
}

func TestPipeline_PlanIgnoresOlderVersions(t *testing.T) {
	store := setupStore(t)
	calls := map[int]int{}
	p, err := New(store, []Step{markerStep(2, calls, nil), markerStep(3, calls, nil)})
	require.NoError(t, err)

	q, err := p.Plan(2)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, versions(q))
}

func TestPipeline_RunNextOnEmptyQueue(t *testing.T) {
	store := setupStore(t)
	p, err := New(store, nil)
	require.NoError(t, err)

	out := p.RunNext(&Queue{})
	assert.Equal(t, Done, out.Status)
	assert.Nil(t, out.Step)
	assert.Zero(t, p.Latest())
}

func TestPipeline_PreconditionError(t *testing.T) {
	store := setupStore(t)
	p, err := New(store, []Step{{
		Version: 2,
		Name:    "broken",
		Applied: func(*bolt.Tx) (bool, error) { return false, errors.New("cannot tell") },
		Apply:   func(*bolt.Tx) error { return nil },
	}})
	require.NoError(t, err)

	_, err = p.Plan(0)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 2, stepErr.Version)
}

func TestNew_RejectsBadTables(t *testing.T) {
	calls := map[int]int{}
	store := setupStore(t)

	_, err := New(store, []Step{markerStep(3, calls, nil), markerStep(2, calls, nil)})
	assert.Error(t, err, "versions out of order")

	_, err = New(store, []Step{markerStep(2, calls, nil), markerStep(2, calls, nil)})
	assert.Error(t, err, "duplicate version")

	_, err = New(store, []Step{{Version: 2, Name: "empty"}})
	assert.Error(t, err, "missing functions")
}

func TestPipeline_Settle(t *testing.T) {
	store := setupStore(t)
	p := NewDefault(store)

	// A fresh store already has the current layout.
	q, err := p.Pending()
	require.NoError(t, err)
	assert.Zero(t, q.Len())

	require.NoError(t, p.Settle())
	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, p.Latest(), version)

	require.NoError(t, p.Settle(), "settling twice is harmless")
}

func TestPipeline_SettleRefusesPendingWork(t *testing.T) {
	store := setupStore(t)
	calls := map[int]int{}
	p, err := New(store, []Step{markerStep(2, calls, nil)})
	require.NoError(t, err)

	assert.Error(t, p.Settle())
	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "failed", Failed.String())
}
