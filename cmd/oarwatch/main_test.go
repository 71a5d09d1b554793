package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angariumd/oarwatch/internal/config"
	"github.com/angariumd/oarwatch/internal/filter"
	"github.com/angariumd/oarwatch/internal/gantt"
	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/topology"
)

func sampleIndex() *topology.Index {
	return topology.New([]models.Cluster{
		{Name: "dahu", Hosts: []models.Host{
			{Name: "dahu-1", Cpus: []models.Cpu{{Name: "cpu0", Resources: []models.Resource{{ID: 101}}}}},
			{Name: "dahu-2", Cpus: []models.Cpu{{Name: "cpu0", Resources: []models.Resource{{ID: 201}}}}},
		}},
		{Name: "bigfoot", Hosts: []models.Host{
			{Name: "bigfoot-1", Cpus: []models.Cpu{{Name: "cpu0", Resources: []models.Resource{{ID: 301}}}}},
		}},
	})
}

func TestParsePicks(t *testing.T) {
	picks := parsePicks([]string{"dahu/dahu-1", "bigfoot", "dahu/dahu-2"})
	require.Len(t, picks, 2)
	assert.Equal(t, topology.Pick{Cluster: "dahu", Hosts: []string{"dahu-1", "dahu-2"}}, picks[0])
	assert.Equal(t, topology.Pick{Cluster: "bigfoot"}, picks[1])

	// a bare cluster wins over narrower picks of the same cluster
	picks = parsePicks([]string{"dahu/dahu-1", "dahu"})
	require.Len(t, picks, 1)
	assert.Nil(t, picks[0].Hosts)
}

func TestFilterFlagsBuild(t *testing.T) {
	ff := filterFlags{
		owners:   []string{"alice"},
		states:   []string{"Running", "toLaunch"},
		idRange:  "10-20",
		clusters: []string{"dahu/dahu-2"},
		walltime: 2 * time.Hour,
	}
	f, err := ff.build(sampleIndex())
	require.NoError(t, err)

	assert.Equal(t, 5, f.Active())
	assert.True(t, f.States.Contains(models.JobStateRunning, models.JobStateToLaunch))
	assert.Equal(t, int64(7200), *f.WallTime)
	require.Len(t, f.Clusters.Clusters, 1)
	assert.Equal(t, "dahu-2", f.Clusters.Clusters[0].Hosts[0].Name)

	_, err = (&filterFlags{states: []string{"Sleeping"}}).build(sampleIndex())
	assert.Error(t, err)
	_, err = (&filterFlags{idRange: "20-10"}).build(sampleIndex())
	assert.Error(t, err)
	_, err = (&filterFlags{scheduledStart: "tomorrow"}).build(sampleIndex())
	assert.Error(t, err)
}

func TestFilterFlagsBuildAvailable(t *testing.T) {
	ff := filterFlags{owners: []string{"alice"}, states: []string{"Running"}, clusters: []string{"dahu/dahu-2"}}
	jobs := []models.Job{
		{ID: 1, Owner: "alice", State: models.JobStateRunning, AssignedResources: []uint32{101}},
		{ID: 2, Owner: "alice", State: models.JobStateRunning, AssignedResources: []uint32{201}},
		{ID: 3, Owner: "bob", State: models.JobStateRunning, AssignedResources: []uint32{201}},
		{ID: 4, Owner: "alice", State: models.JobStateWaiting},
	}
	ids := func(js []models.Job) []uint32 {
		var out []uint32
		for _, j := range js {
			out = append(out, j.ID)
		}
		return out
	}

	// before the topology arrives the other flags already apply
	f, complete, err := ff.buildAvailable(topology.Empty())
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, f.Clusters)
	assert.Equal(t, []uint32{1, 2}, ids(filter.Apply(jobs, f)))

	f, complete, err = ff.buildAvailable(sampleIndex())
	require.NoError(t, err)
	assert.True(t, complete)
	require.NotNil(t, f.Clusters)
	assert.Equal(t, []uint32{2}, ids(filter.Apply(jobs, f)))

	// nothing to wait for without cluster flags
	_, complete, err = (&filterFlags{owners: []string{"alice"}}).buildAvailable(topology.Empty())
	require.NoError(t, err)
	assert.True(t, complete)

	_, _, err = (&filterFlags{states: []string{"Sleeping"}, clusters: []string{"dahu"}}).buildAvailable(topology.Empty())
	assert.Error(t, err)
}

func TestWalltime(t *testing.T) {
	assert.Equal(t, "-", walltime(0))
	assert.Equal(t, "2:00:00", walltime(7200))
	assert.Equal(t, "0:01:05", walltime(65))
	assert.Equal(t, "36:00:01", walltime(36*3600+1))
}

func TestBar(t *testing.T) {
	b := []rune(bar(150, 200, 100, 200))
	require.Len(t, b, barWidth)
	assert.Equal(t, '·', b[0])
	assert.Equal(t, '█', b[barWidth/2])
	assert.Equal(t, '█', b[barWidth-1])

	// never-started jobs draw an empty track
	assert.NotContains(t, bar(0, 0, 100, 200), "█")
	// a zero-length job still gets one cell
	assert.Equal(t, 1, strings.Count(bar(100, 100, 100, 200), "█"))
}

func TestPrintJobs(t *testing.T) {
	var buf bytes.Buffer
	msg := "R=4"
	jobs := []models.Job{{ID: 42, Owner: "alice", State: models.JobStateRunning, Queue: "default",
		WallTime: 3600, Hosts: []string{"dahu-1"}, Command: "./run.sh", Message: &msg}}
	require.NoError(t, printJobs(&buf, jobs, config.Options{Theme: "plain"}))

	out := buf.String()
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "Running")
	assert.Contains(t, out, "1:00:00")
	assert.Contains(t, out, "dahu-1")
	assert.NotContains(t, out, "\x1b[")

	buf.Reset()
	require.NoError(t, printJobs(&buf, jobs, config.Options{Theme: "dark"}))
	assert.Contains(t, buf.String(), "\x1b[38;2;")
}

func TestPrintGantt(t *testing.T) {
	tree := gantt.Tree{{Key: "alice", Buckets: []gantt.Bucket{{Key: "1", Jobs: []models.Job{{ID: 1, StartTime: 1000, WallTime: 100}}}}}}
	var buf bytes.Buffer
	require.NoError(t, printGantt(&buf, tree, config.Options{Theme: "plain"}))
	assert.Contains(t, buf.String(), "alice")
	assert.Contains(t, buf.String(), "█")
}

func TestPrintTopology(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printTopology(&buf, sampleIndex()))
	out := buf.String()
	assert.Contains(t, out, "dahu")
	assert.Contains(t, out, "bigfoot-1")
}

func TestManualLimiter(t *testing.T) {
	l := manualLimiter()
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
