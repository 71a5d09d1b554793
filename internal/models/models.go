package models

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/zeebo/xxh3"
)

type JobState int

// Declaration order is the rank used when sorting by state.
const (
	JobStateUnknown JobState = iota
	JobStateWaiting
	JobStateHold
	JobStateToLaunch
	JobStateToError
	JobStateToAckReservation
	JobStateLaunching
	JobStateRunning
	JobStateSuspended
	JobStateResuming
	JobStateFinishing
	JobStateTerminated
	JobStateError
)

var jobStateNames = [...]string{
	"Unknown",
	"Waiting",
	"Hold",
	"ToLaunch",
	"ToError",
	"ToAckReservation",
	"Launching",
	"Running",
	"Suspended",
	"Resuming",
	"Finishing",
	"Terminated",
	"Error",
}

// OAR itself spells the transitional states in lower camel case.
var jobStateAliases = map[string]JobState{
	"toLaunch":         JobStateToLaunch,
	"toError":          JobStateToError,
	"toAckReservation": JobStateToAckReservation,
}

func (s JobState) String() string {
	if s < 0 || int(s) >= len(jobStateNames) {
		return fmt.Sprintf("JobState(%d)", int(s))
	}
	return jobStateNames[s]
}

// ParseJobState matches case-sensitively and reports false for unknown names.
func ParseJobState(name string) (JobState, bool) {
	for i, n := range jobStateNames {
		if n == name {
			return JobState(i), true
		}
	}
	if s, ok := jobStateAliases[name]; ok {
		return s, true
	}
	return JobStateUnknown, false
}

func JobStates() []JobState {
	states := make([]JobState, len(jobStateNames))
	for i := range jobStateNames {
		states[i] = JobState(i)
	}
	return states
}

type ResourceState int

const (
	ResourceStateUnknown ResourceState = iota
	ResourceStateDead
	ResourceStateAlive
	ResourceStateAbsent
)

func (s ResourceState) String() string {
	switch s {
	case ResourceStateDead:
		return "Dead"
	case ResourceStateAlive:
		return "Alive"
	case ResourceStateAbsent:
		return "Absent"
	default:
		return "Unknown"
	}
}

func ParseResourceState(name string) ResourceState {
	switch name {
	case "Dead":
		return ResourceStateDead
	case "Alive":
		return ResourceStateAlive
	case "Absent":
		return ResourceStateAbsent
	default:
		return ResourceStateUnknown
	}
}

type Color struct {
	R, G, B uint8
}

func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// ColorFor derives a stable colour from a key. Channels are kept in the
// 64..223 band so the result stays readable on both light and dark themes.
func ColorFor(key string) Color {
	h := xxh3.HashString(key)
	channel := func(shift uint) uint8 {
		return uint8(64 + (h>>shift&0xff)%160)
	}
	return Color{R: channel(0), G: channel(8), B: channel(16)}
}

type Job struct {
	ID                uint32   `json:"id"`
	Owner             string   `json:"owner"`
	State             JobState `json:"state"`
	Command           string   `json:"command"`
	Queue             string   `json:"queue"`
	Message           *string  `json:"message,omitempty"`
	WallTime          int64    `json:"walltime"`
	SubmissionTime    int64    `json:"submission_time"`
	ScheduledStart    int64    `json:"scheduled_start"`
	StartTime         int64    `json:"start_time"`
	StopTime          int64    `json:"stop_time"`
	ExitCode          *int     `json:"exit_code,omitempty"`
	AssignedResources []uint32 `json:"assigned_resources"`
	Clusters          []string `json:"clusters"`
	Hosts             []string `json:"hosts"`
	Color             Color    `json:"-"`
}

type Resource struct {
	ID          uint32        `json:"id"`
	State       ResourceState `json:"state"`
	ThreadCount int           `json:"thread_count"`
}

type Cpu struct {
	Name        string             `json:"name"`
	Resources   []Resource         `json:"resources"`
	ResourceIDs mapset.Set[uint32] `json:"-"`
	CoreCount   int                `json:"core_count"`
	Frequency   float64            `json:"frequency"`
	Chassis     string             `json:"chassis"`
}

type Host struct {
	Name           string             `json:"name"`
	Cpus           []Cpu              `json:"cpus"`
	ResourceIDs    mapset.Set[uint32] `json:"-"`
	NetworkAddress string             `json:"network_address"`
	State          ResourceState      `json:"state"`
}

type Cluster struct {
	Name        string             `json:"name"`
	Hosts       []Host             `json:"hosts"`
	ResourceIDs mapset.Set[uint32] `json:"-"`
	State       ResourceState      `json:"state"`
}
