package filter

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/topology"
)

func sampleJobs() []models.Job {
	return []models.Job{
		{ID: 1, Owner: "user1", State: models.JobStateRunning, WallTime: 3600, ScheduledStart: 1000, AssignedResources: []uint32{101}},
		{ID: 2, Owner: "user2", State: models.JobStateWaiting, WallTime: 7200, ScheduledStart: 2000, AssignedResources: []uint32{201}},
		{ID: 3, Owner: "user1", State: models.JobStateTerminated, WallTime: 3600, ScheduledStart: 3000, AssignedResources: []uint32{102, 201}},
	}
}

func sampleTopology() *topology.Index {
	cpu := func(ids ...uint32) models.Cpu {
		c := models.Cpu{Name: "cpu0", ResourceIDs: mapset.NewThreadUnsafeSet(ids...)}
		for _, id := range ids {
			c.Resources = append(c.Resources, models.Resource{ID: id})
		}
		return c
	}
	return topology.New([]models.Cluster{{
		Name: "dahu",
		Hosts: []models.Host{
			{Name: "dahu-1", Cpus: []models.Cpu{cpu(101)}},
			{Name: "dahu-2", Cpus: []models.Cpu{cpu(102, 201)}},
		},
	}})
}

func ids(jobs []models.Job) []uint32 {
	out := make([]uint32, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func TestApplyDefaultIsIdentity(t *testing.T) {
	jobs := sampleJobs()
	var f JobFilters
	assert.True(t, f.IsZero())
	assert.Equal(t, jobs, Apply(jobs, f))
	assert.Empty(t, Apply(nil, f))
}

func TestApplyOwners(t *testing.T) {
	out := Apply(sampleJobs(), JobFilters{Owners: Owners("user1")})
	require.Len(t, out, 2)
	for _, j := range out {
		assert.Equal(t, "user1", j.Owner)
	}

	out = Apply(sampleJobs(), JobFilters{Owners: Owners("user1", "user2")})
	assert.Len(t, out, 3)
}

func TestApplyStates(t *testing.T) {
	f := JobFilters{States: States(models.JobStateRunning, models.JobStateWaiting)}
	assert.Equal(t, []uint32{1, 2}, ids(Apply(sampleJobs(), f)))

	f.States = nil
	assert.Len(t, Apply(sampleJobs(), f), 3)
}

func TestApplyIDRange(t *testing.T) {
	f := JobFilters{JobIDRange: &IDRange{Lo: 2, Hi: 3}}
	assert.Equal(t, []uint32{2, 3}, ids(Apply(sampleJobs(), f)))

	f.JobIDRange = &IDRange{Lo: 3, Hi: 3}
	assert.Equal(t, []uint32{3}, ids(Apply(sampleJobs(), f)))
}

func TestApplyExactMatchFields(t *testing.T) {
	wall := int64(3600)
	assert.Equal(t, []uint32{1, 3}, ids(Apply(sampleJobs(), JobFilters{WallTime: &wall})))

	// exact match, not a lower bound
	start := int64(2000)
	assert.Equal(t, []uint32{2}, ids(Apply(sampleJobs(), JobFilters{ScheduledStartTime: &start})))
}

func TestApplyClusters(t *testing.T) {
	topo := sampleTopology()

	t.Run("host owning 101", func(t *testing.T) {
		f := JobFilters{Clusters: &Selection{Clusters: topo.Select(topology.Pick{Cluster: "dahu", Hosts: []string{"dahu-1"}})}}
		assert.Equal(t, []uint32{1}, ids(Apply(sampleJobs(), f)))
	})

	t.Run("whole cluster", func(t *testing.T) {
		f := JobFilters{Clusters: &Selection{Clusters: topo.Select(topology.Pick{Cluster: "dahu"})}}
		assert.Equal(t, []uint32{1, 2, 3}, ids(Apply(sampleJobs(), f)))
	})

	t.Run("empty selection matches nothing", func(t *testing.T) {
		f := JobFilters{Clusters: &Selection{}}
		assert.Empty(t, Apply(sampleJobs(), f))
	})
}

func TestApplyCombined(t *testing.T) {
	f := JobFilters{
		Owners: Owners("user1"),
		States: States(models.JobStateTerminated),
	}
	assert.Equal(t, 2, f.Active())
	assert.Equal(t, []uint32{3}, ids(Apply(sampleJobs(), f)))

	first := Apply(sampleJobs(), f)
	assert.Equal(t, first, Apply(sampleJobs(), f))

	f.Reset()
	assert.True(t, f.IsZero())
}

func TestParseIDRange(t *testing.T) {
	r, err := ParseIDRange("10-20")
	require.NoError(t, err)
	assert.Equal(t, IDRange{Lo: 10, Hi: 20}, r)

	r, err = ParseIDRange("7")
	require.NoError(t, err)
	assert.Equal(t, IDRange{Lo: 7, Hi: 7}, r)

	_, err = ParseIDRange("20-10")
	assert.Error(t, err)
	_, err = ParseIDRange("a-b")
	assert.Error(t, err)
}
