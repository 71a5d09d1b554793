package decoder

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog/log"

	"github.com/angariumd/oarwatch/internal/models"
)

var ErrMalformed = errors.New("malformed scheduler data")

const (
	defaultOwner = "unknown"
	defaultQueue = "default"
)

type jobRecord struct {
	ID             json.RawMessage   `json:"id"`
	Owner          *string           `json:"owner"`
	State          *string           `json:"state"`
	Command        *string           `json:"command"`
	WallTime       int64             `json:"walltime"`
	Message        *string           `json:"message"`
	Queue          *string           `json:"queue"`
	ResourceIDs    []json.RawMessage `json:"resource_id"`
	StartTime      int64             `json:"start_time"`
	StopTime       int64             `json:"stop_time"`
	SubmissionTime int64             `json:"submission_time"`
	ScheduledStart int64             `json:"scheduled_start"`
	ExitCode       *int              `json:"exit_code"`
}

// section returns the first top-level document in data that has key. The
// fetch command may append one document per tool to the same file, so the
// shapes can arrive merged in one object or one after the other. When no
// document has key the first one is returned.
func section(data []byte, key string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var first json.RawMessage
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = raw
		}
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) == nil {
			if _, ok := fields[key]; ok {
				return raw, nil
			}
		}
	}
	if first == nil {
		return nil, errors.New("no JSON document")
	}
	return first, nil
}

// parseID reads an id written either as a number or as a numeric string.
func parseID(raw json.RawMessage) (uint32, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

type jobsDocument struct {
	Jobs map[string]json.RawMessage `json:"jobs"`
}

// Jobs parses the {"jobs": {...}} document. A document that does not have
// that shape fails as a whole; a single record that does not decode is
// skipped and missing fields fall back to their defaults.
func Jobs(data []byte) ([]models.Job, error) {
	raw, err := section(data, "jobs")
	if err != nil {
		return nil, fmt.Errorf("%w: decoding jobs: %v", ErrMalformed, err)
	}
	var doc jobsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding jobs: %v", ErrMalformed, err)
	}

	jobs := make([]models.Job, 0, len(doc.Jobs))
	for key, raw := range doc.Jobs {
		var rec jobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("skipping undecodable job record")
			continue
		}
		jobs = append(jobs, rec.toJob())
	}

	// map iteration order is random; keep snapshots reproducible
	slices.SortFunc(jobs, func(a, b models.Job) int { return cmp.Compare(a.ID, b.ID) })
	return jobs, nil
}

func (r jobRecord) toJob() models.Job {
	j := models.Job{
		Owner:          defaultOwner,
		State:          models.JobStateUnknown,
		Queue:          defaultQueue,
		WallTime:       r.WallTime,
		Message:        r.Message,
		StartTime:      r.StartTime,
		StopTime:       r.StopTime,
		SubmissionTime: r.SubmissionTime,
		ScheduledStart: r.ScheduledStart,
		ExitCode:       r.ExitCode,
	}
	// ids are documented as strings but some exporters emit plain numbers
	j.ID, _ = parseID(r.ID)
	if r.Owner != nil {
		j.Owner = *r.Owner
	}
	if r.State != nil {
		j.State, _ = models.ParseJobState(*r.State)
	}
	if r.Command != nil {
		j.Command = *r.Command
	}
	if r.Queue != nil {
		j.Queue = *r.Queue
	}
	for _, raw := range r.ResourceIDs {
		if id, ok := parseID(raw); ok {
			j.AssignedResources = append(j.AssignedResources, id)
		}
	}
	j.Color = models.ColorFor(j.Owner)
	return j
}

type resourceRecord struct {
	ID             uint32      `json:"resource_id"`
	State          string      `json:"state"`
	Cluster        string      `json:"cluster"`
	Host           string      `json:"host"`
	NetworkAddress string      `json:"network_address"`
	Cpu            *int        `json:"cpu"`
	Core           *int        `json:"core"`
	CpuType        string      `json:"cputype"`
	CpuFreq        json.Number `json:"cpufreq"`
	Chassis        string      `json:"chassis"`
	ThreadCount    *int        `json:"thread_count"`
}

type resourcesDocument struct {
	Resources []json.RawMessage `json:"resources"`
}

// Resources parses the {"resources": [...]} document and folds the flat
// resource list into a Cluster→Host→Cpu→Resource tree. Clusters, hosts and
// cpus keep the order in which they first appear.
func Resources(data []byte) ([]models.Cluster, error) {
	raw, err := section(data, "resources")
	if err != nil {
		return nil, fmt.Errorf("%w: decoding resources: %v", ErrMalformed, err)
	}
	var doc resourcesDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding resources: %v", ErrMalformed, err)
	}

	b := newTreeBuilder()
	for i, raw := range doc.Resources {
		var rec resourceRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Int("index", i).Err(err).Msg("skipping undecodable resource record")
			continue
		}
		b.add(rec)
	}
	return b.build(), nil
}

type cpuKey struct {
	cluster, host string
	cpu           int
}

type treeBuilder struct {
	clusters []*models.Cluster
	byName   map[string]*models.Cluster
	hosts    map[[2]string]*models.Host
	cpus     map[cpuKey]*models.Cpu
	cores    map[cpuKey]mapset.Set[int]
	order    map[string][]string
	cpuOrder map[[2]string][]int
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{
		byName:   make(map[string]*models.Cluster),
		hosts:    make(map[[2]string]*models.Host),
		cpus:     make(map[cpuKey]*models.Cpu),
		cores:    make(map[cpuKey]mapset.Set[int]),
		order:    make(map[string][]string),
		cpuOrder: make(map[[2]string][]int),
	}
}

func (b *treeBuilder) add(rec resourceRecord) {
	c, ok := b.byName[rec.Cluster]
	if !ok {
		c = &models.Cluster{Name: rec.Cluster, ResourceIDs: mapset.NewThreadUnsafeSet[uint32]()}
		b.byName[rec.Cluster] = c
		b.clusters = append(b.clusters, c)
	}

	hk := [2]string{rec.Cluster, rec.Host}
	h, ok := b.hosts[hk]
	if !ok {
		h = &models.Host{Name: rec.Host, NetworkAddress: rec.NetworkAddress, ResourceIDs: mapset.NewThreadUnsafeSet[uint32]()}
		b.hosts[hk] = h
		b.order[rec.Cluster] = append(b.order[rec.Cluster], rec.Host)
	}

	cpuIdx := 0
	if rec.Cpu != nil {
		cpuIdx = *rec.Cpu
	}
	ck := cpuKey{rec.Cluster, rec.Host, cpuIdx}
	cpu, ok := b.cpus[ck]
	if !ok {
		name := rec.CpuType
		if name == "" {
			name = fmt.Sprintf("cpu%d", cpuIdx)
		}
		cpu = &models.Cpu{Name: name, Chassis: rec.Chassis, ResourceIDs: mapset.NewThreadUnsafeSet[uint32]()}
		// cpufreq arrives as a number or a numeric string depending on the OAR version
		if f, err := rec.CpuFreq.Float64(); err == nil {
			cpu.Frequency = f
		}
		b.cpus[ck] = cpu
		b.cores[ck] = mapset.NewThreadUnsafeSet[int]()
		b.cpuOrder[hk] = append(b.cpuOrder[hk], cpuIdx)
	}

	threads := 1
	if rec.ThreadCount != nil && *rec.ThreadCount > 0 {
		threads = *rec.ThreadCount
	}
	cpu.Resources = append(cpu.Resources, models.Resource{
		ID:          rec.ID,
		State:       models.ParseResourceState(rec.State),
		ThreadCount: threads,
	})
	cpu.ResourceIDs.Add(rec.ID)
	if rec.Core != nil {
		b.cores[ck].Add(*rec.Core)
	}
	h.ResourceIDs.Add(rec.ID)
	c.ResourceIDs.Add(rec.ID)
}

func (b *treeBuilder) build() []models.Cluster {
	out := make([]models.Cluster, 0, len(b.clusters))
	for _, c := range b.clusters {
		var clusterStates []models.ResourceState
		for _, hostName := range b.order[c.Name] {
			hk := [2]string{c.Name, hostName}
			h := b.hosts[hk]
			var hostStates []models.ResourceState
			for _, cpuIdx := range b.cpuOrder[hk] {
				ck := cpuKey{c.Name, hostName, cpuIdx}
				cpu := b.cpus[ck]
				cpu.CoreCount = b.cores[ck].Cardinality()
				if cpu.CoreCount == 0 {
					cpu.CoreCount = len(cpu.Resources)
				}
				for _, r := range cpu.Resources {
					hostStates = append(hostStates, r.State)
				}
				h.Cpus = append(h.Cpus, *cpu)
			}
			h.State = summarize(hostStates)
			clusterStates = append(clusterStates, h.State)
			c.Hosts = append(c.Hosts, *h)
		}
		c.State = summarize(clusterStates)
		out = append(out, *c)
	}
	return out
}

// summarize is Alive when any child is alive, otherwise the state shared by
// all children, otherwise Unknown.
func summarize(states []models.ResourceState) models.ResourceState {
	if len(states) == 0 {
		return models.ResourceStateUnknown
	}
	first := states[0]
	same := true
	for _, s := range states {
		if s == models.ResourceStateAlive {
			return models.ResourceStateAlive
		}
		if s != first {
			same = false
		}
	}
	if same {
		return first
	}
	return models.ResourceStateUnknown
}

// FileDecoder reads both shapes from the local cache file written by a fetcher.
type FileDecoder struct {
	Path string
}

func (d FileDecoder) DecodeJobs() ([]models.Job, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return Jobs(data)
}

func (d FileDecoder) DecodeResources() ([]models.Cluster, error) {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return Resources(data)
}
