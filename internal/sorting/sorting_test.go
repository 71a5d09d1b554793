package sorting

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angariumd/oarwatch/internal/models"
)

func ptr[T any](v T) *T { return &v }

func ids(jobs []models.Job) []uint32 {
	out := make([]uint32, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func sampleJobs() []models.Job {
	return []models.Job{
		{ID: 7, Owner: "bob", State: models.JobStateRunning, ExitCode: ptr(1), Clusters: []string{"dahu"}},
		{ID: 3, Owner: "alice", State: models.JobStateWaiting, Message: ptr("R=16"), Clusters: []string{"bigfoot", "dahu"}},
		{ID: 9, Owner: "bob", State: models.JobStateError, ExitCode: ptr(0)},
		{ID: 1, Owner: "carol", State: models.JobStateWaiting, Message: ptr("A"), Clusters: []string{"bigfoot"}},
	}
}

func TestSortByIDReversal(t *testing.T) {
	asc := Sort(sampleJobs(), KeyID, true)
	assert.Equal(t, []uint32{1, 3, 7, 9}, ids(asc))

	desc := Sort(asc, KeyID, false)
	want := ids(asc)
	slices.Reverse(want)
	assert.Equal(t, want, ids(desc))
}

func TestSortIdempotent(t *testing.T) {
	for _, key := range Keys() {
		for _, asc := range []bool{true, false} {
			once := Sort(sampleJobs(), key, asc)
			twice := Sort(once, key, asc)
			assert.Equal(t, ids(once), ids(twice), "key %s ascending=%v", key, asc)
		}
	}
}

func TestSortIsStable(t *testing.T) {
	// 7 and 9 share an owner and must keep their input order in both directions
	asc := Sort(sampleJobs(), KeyOwner, true)
	assert.Equal(t, []uint32{3, 7, 9, 1}, ids(asc))

	desc := Sort(sampleJobs(), KeyOwner, false)
	assert.Equal(t, []uint32{1, 7, 9, 3}, ids(desc))
}

func TestSortByState(t *testing.T) {
	out := Sort(sampleJobs(), KeyState, true)
	assert.Equal(t, []uint32{3, 1, 7, 9}, ids(out))
}

func TestSortOptionalNoneFirst(t *testing.T) {
	out := Sort(sampleJobs(), KeyExitCode, true)
	assert.Equal(t, []uint32{3, 1, 9, 7}, ids(out))

	out = Sort(sampleJobs(), KeyMessage, true)
	assert.Equal(t, []uint32{7, 9, 1, 3}, ids(out))
}

func TestSortByClusters(t *testing.T) {
	out := Sort(sampleJobs(), KeyClusters, true)
	assert.Equal(t, []uint32{9, 1, 3, 7}, ids(out))
}

func TestSortDoesNotMutateInput(t *testing.T) {
	jobs := sampleJobs()
	Sort(jobs, KeyID, true)
	assert.Equal(t, []uint32{7, 3, 9, 1}, ids(jobs))
}

func TestParseKey(t *testing.T) {
	for _, k := range Keys() {
		got, err := ParseKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKey("colour")
	assert.ErrorIs(t, err, ErrUnknownKey)
}
