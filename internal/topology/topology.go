package topology

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/angariumd/oarwatch/internal/models"
)

type location struct {
	cluster, host, cpu, resource int
}

// Index owns a Cluster→Host→Cpu→Resource tree and answers lookups against it.
// It is never mutated after New; a refresh replaces the whole Index.
type Index struct {
	clusters   []models.Cluster
	byResource map[uint32]location
	all        mapset.Set[uint32]
}

func New(clusters []models.Cluster) *Index {
	idx := &Index{
		clusters:   clusters,
		byResource: make(map[uint32]location),
		all:        mapset.NewThreadUnsafeSet[uint32](),
	}
	for ci, c := range clusters {
		for hi, h := range c.Hosts {
			for pi, cpu := range h.Cpus {
				for ri, r := range cpu.Resources {
					idx.byResource[r.ID] = location{ci, hi, pi, ri}
					idx.all.Add(r.ID)
				}
			}
		}
	}
	return idx
}

func Empty() *Index {
	return New(nil)
}

func (idx *Index) Clusters() []models.Cluster {
	return idx.clusters
}

func (idx *Index) Len() int {
	return len(idx.byResource)
}

func (idx *Index) ResourceIDs() mapset.Set[uint32] {
	return idx.all
}

func (idx *Index) Resource(id uint32) (models.Resource, bool) {
	loc, ok := idx.byResource[id]
	if !ok {
		return models.Resource{}, false
	}
	return idx.clusters[loc.cluster].Hosts[loc.host].Cpus[loc.cpu].Resources[loc.resource], true
}

// Locate returns the cluster and host names owning resource id.
func (idx *Index) Locate(id uint32) (cluster, host string, ok bool) {
	loc, ok := idx.byResource[id]
	if !ok {
		return "", "", false
	}
	c := idx.clusters[loc.cluster]
	return c.Name, c.Hosts[loc.host].Name, true
}

func (idx *Index) Cluster(name string) (models.Cluster, bool) {
	for _, c := range idx.clusters {
		if c.Name == name {
			return c, true
		}
	}
	return models.Cluster{}, false
}

func (idx *Index) Host(cluster, host string) (models.Host, bool) {
	c, ok := idx.Cluster(cluster)
	if !ok {
		return models.Host{}, false
	}
	for _, h := range c.Hosts {
		if h.Name == host {
			return h, true
		}
	}
	return models.Host{}, false
}

// Annotate returns copies of jobs with Clusters and Hosts derived from
// AssignedResources. Resource ids missing from the index are skipped, so jobs
// decoded before the topology arrives simply carry empty lists.
func (idx *Index) Annotate(jobs []models.Job) []models.Job {
	out := make([]models.Job, len(jobs))
	for i, j := range jobs {
		clusters := mapset.NewThreadUnsafeSet[string]()
		hosts := mapset.NewThreadUnsafeSet[string]()
		for _, id := range j.AssignedResources {
			c, h, ok := idx.Locate(id)
			if !ok {
				continue
			}
			clusters.Add(c)
			hosts.Add(h)
		}
		j.Clusters = sortedStrings(clusters)
		j.Hosts = sortedStrings(hosts)
		out[i] = j
	}
	return out
}

func sortedStrings(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}

// Pick names a cluster, optionally narrowed to some of its hosts.
// An empty Hosts list keeps every host of the cluster.
type Pick struct {
	Cluster string
	Hosts   []string
}

// Select returns a pruned deep copy of the tree holding only the picked
// clusters and hosts. Unknown names are ignored.
func (idx *Index) Select(picks ...Pick) []models.Cluster {
	var out []models.Cluster
	for _, p := range picks {
		c, ok := idx.Cluster(p.Cluster)
		if !ok {
			continue
		}
		pruned := models.Cluster{
			Name:        c.Name,
			State:       c.State,
			ResourceIDs: mapset.NewThreadUnsafeSet[uint32](),
		}
		for _, h := range c.Hosts {
			if len(p.Hosts) > 0 && !slices.Contains(p.Hosts, h.Name) {
				continue
			}
			hc := copyHost(h)
			pruned.Hosts = append(pruned.Hosts, hc)
			pruned.ResourceIDs = pruned.ResourceIDs.Union(hc.ResourceIDs)
		}
		if len(pruned.Hosts) > 0 {
			out = append(out, pruned)
		}
	}
	return out
}

func copyHost(h models.Host) models.Host {
	hc := models.Host{
		Name:           h.Name,
		NetworkAddress: h.NetworkAddress,
		State:          h.State,
		ResourceIDs:    mapset.NewThreadUnsafeSet[uint32](),
		Cpus:           make([]models.Cpu, len(h.Cpus)),
	}
	for i, cpu := range h.Cpus {
		cc := cpu
		cc.Resources = slices.Clone(cpu.Resources)
		cc.ResourceIDs = mapset.NewThreadUnsafeSet[uint32]()
		for _, r := range cc.Resources {
			cc.ResourceIDs.Add(r.ID)
		}
		hc.Cpus[i] = cc
		hc.ResourceIDs = hc.ResourceIDs.Union(cc.ResourceIDs)
	}
	return hc
}

// Flatten walks a selection down to its resources and returns every id found.
// It reads the leaves, not the cached ResourceIDs sets, which can drift.
func Flatten(selection []models.Cluster) mapset.Set[uint32] {
	ids := mapset.NewThreadUnsafeSet[uint32]()
	for _, c := range selection {
		for _, h := range c.Hosts {
			for _, cpu := range h.Cpus {
				for _, r := range cpu.Resources {
					ids.Add(r.ID)
				}
			}
		}
	}
	return ids
}
