package gantt

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/angariumd/oarwatch/internal/models"
	"github.com/angariumd/oarwatch/internal/topology"
)

var ErrGroupingUndefined = errors.New("grouping mode has no defined layout")

type Mode int

const (
	ByOwner Mode = iota
	ByCluster
	ByHost
)

var modeNames = [...]string{"owner", "cluster", "host"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

func ParseMode(s string) (Mode, error) {
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown grouping %q", s)
}

// Bucket is one timeline row.
type Bucket struct {
	Key  string
	Jobs []models.Job
}

type Group struct {
	Key     string
	Buckets []Bucket
}

// Tree is ordered at both levels so a redraw lays out identically.
type Tree []Group

// Aggregate groups jobs for a timeline. ByOwner nests job ids under their
// owner. ByCluster nests hosts under clusters and places a job on every
// (cluster, host) pair it touches, so a job spread across hosts appears once
// per host.
func Aggregate(jobs []models.Job, mode Mode, topo *topology.Index) (Tree, error) {
	switch mode {
	case ByOwner:
		return byOwner(jobs), nil
	case ByCluster:
		if topo == nil {
			topo = topology.Empty()
		}
		return byCluster(jobs, topo), nil
	default:
		// ByHost has no agreed layout without the cluster level.
		return nil, fmt.Errorf("%w: %s", ErrGroupingUndefined, mode)
	}
}

func byOwner(jobs []models.Job) Tree {
	owners := make(map[string]map[uint32][]models.Job)
	for _, j := range jobs {
		ids, ok := owners[j.Owner]
		if !ok {
			ids = make(map[uint32][]models.Job)
			owners[j.Owner] = ids
		}
		ids[j.ID] = append(ids[j.ID], j)
	}

	tree := make(Tree, 0, len(owners))
	for _, owner := range sortedKeys(owners) {
		ids := owners[owner]
		g := Group{Key: owner, Buckets: make([]Bucket, 0, len(ids))}
		for _, id := range sortedKeys(ids) {
			g.Buckets = append(g.Buckets, Bucket{
				Key:  strconv.FormatUint(uint64(id), 10),
				Jobs: ids[id],
			})
		}
		tree = append(tree, g)
	}
	return tree
}

func byCluster(jobs []models.Job, topo *topology.Index) Tree {
	clusters := slices.Clone(topo.Clusters())
	slices.SortFunc(clusters, func(a, b models.Cluster) int { return cmp.Compare(a.Name, b.Name) })

	var tree Tree
	for _, c := range clusters {
		hosts := make([]string, 0, len(c.Hosts))
		for _, h := range c.Hosts {
			hosts = append(hosts, h.Name)
		}
		slices.Sort(hosts)
		hosts = slices.Compact(hosts)

		g := Group{Key: c.Name}
		for _, h := range hosts {
			var matched []models.Job
			for _, j := range jobs {
				if slices.Contains(j.Clusters, c.Name) && slices.Contains(j.Hosts, h) {
					matched = append(matched, j)
				}
			}
			if len(matched) > 0 {
				g.Buckets = append(g.Buckets, Bucket{Key: h, Jobs: matched})
			}
		}
		if len(g.Buckets) > 0 {
			tree = append(tree, g)
		}
	}
	return tree
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len counts job placements, duplicates included.
func (t Tree) Len() int {
	n := 0
	for _, g := range t {
		for _, b := range g.Buckets {
			n += len(b.Jobs)
		}
	}
	return n
}

// Span returns the earliest start and the latest end across the tree. A job
// still running ends at start+walltime. Jobs that never started are ignored.
func (t Tree) Span() (start, end int64, ok bool) {
	for _, g := range t {
		for _, b := range g.Buckets {
			for _, j := range b.Jobs {
				if j.StartTime == 0 {
					continue
				}
				stop := JobEnd(j)
				if !ok || j.StartTime < start {
					start = j.StartTime
				}
				if !ok || stop > end {
					end = stop
				}
				ok = true
			}
		}
	}
	return start, end, ok
}

// JobEnd is the stop time, or the walltime deadline when the job has not stopped.
func JobEnd(j models.Job) int64 {
	if j.StopTime != 0 {
		return j.StopTime
	}
	return j.StartTime + j.WallTime
}
