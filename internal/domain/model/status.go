package model

// ParentObject identifies the kind of entity a status reply describes,
// which in turn selects the merge strategy in the fan-out client
// (spec.md §4.4.3).
type ParentObject int

const (
	ParentServer ParentObject = iota + 1
	ParentQueue
	ParentJob
	ParentNode
	ParentReservation
)

// JobState is the fixed job-state enumeration used by the state_count
// attribute. Order matters: it is both the decode target and the
// canonical re-encode order (spec.md §4.4.3.1).
type JobState int

const (
	Transit JobState = iota
	Queued
	Held
	Waiting
	Running
	Exiting
	Begun
	numJobStates
)

var jobStateNames = [numJobStates]string{
	Transit:  "Transit",
	Queued:   "Queued",
	Held:     "Held",
	Waiting:  "Waiting",
	Running:  "Running",
	Exiting:  "Exiting",
	Begun:    "Begun",
}

// JobStateName returns the canonical token for a job state, or "" if out
// of range.
func JobStateName(s JobState) string {
	if s < 0 || s >= numJobStates {
		return ""
	}
	return jobStateNames[s]
}

// NumJobStates is the width of the state_count vector.
const NumJobStates = int(numJobStates)

// ResourceType classifies a resources_assigned value for merge purposes
// (spec.md §4.4.3.3).
type ResourceType int

const (
	ResourceDouble ResourceType = iota
	ResourceLong
	ResourceSize
	ResourceString
)

// Attr is one attribute entry: a plain name/value pair, optionally
// qualified by a resource name (e.g. "resources_assigned.ncpus"). This
// replaces the teacher-era pointer-chained attrl list with a slice, per
// spec.md §9's own design note.
type Attr struct {
	Name     string
	Resource string
	Value    string
}

// StatusEntry is one object in a batch status reply: a server, queue,
// job, node or reservation, with its attributes and free-form text.
type StatusEntry struct {
	Name      string
	Attribs   []Attr
	Text      string
	ServerIdx int
	HasSvrIdx bool
}

// StatusReply is the result of a status request against one or more
// servers. Entries preserves arrival order; Append is O(1) because it is
// a plain slice append, the same complexity the spec's head/tail
// doubly-reachable list gives in a systems language.
type StatusReply struct {
	Entries []StatusEntry
}

func (r *StatusReply) Append(e StatusEntry) {
	r.Entries = append(r.Entries, e)
}

// FindAttr returns the value and presence flag of the named attribute
// (unqualified by resource).
func (e *StatusEntry) FindAttr(name string) (string, bool) {
	for i := range e.Attribs {
		if e.Attribs[i].Name == name && e.Attribs[i].Resource == "" {
			return e.Attribs[i].Value, true
		}
	}
	return "", false
}

// SetAttr overwrites the value of the named unqualified attribute, or
// appends it if absent.
func (e *StatusEntry) SetAttr(name, value string) {
	for i := range e.Attribs {
		if e.Attribs[i].Name == name && e.Attribs[i].Resource == "" {
			e.Attribs[i].Value = value
			return
		}
	}
	e.Attribs = append(e.Attribs, Attr{Name: name, Value: value})
}

const (
	AttrStateCount  = "state_count"
	AttrTotalJobs   = "total_jobs"
	AttrResAssigned = "resources_assigned"
	AttrServerIndex = "server_index"
)
