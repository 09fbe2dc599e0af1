// Package registry owns every piece of process-wide mutable state:
// the self host descriptor, the peer table, the job queue, the access
// lists, and the policy switches. Each aggregate has its own mutex and no
// two are ever held at once. This replaces the global mutex-guarded
// singletons of the original peer daemon with one value that every task
// holds a shared reference to, in the spirit of huabot-sched's Sched
// struct (which plays the same "one owned state, many goroutines" role).
package registry

import (
	"container/list"
	"sync"
	"time"
)

// Status values for HostDescriptor.Status.
type Status int

const (
	StatusIdle Status = iota
	StatusBusy
	StatusZombie
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusBusy:
		return "BUSY"
	case StatusZombie:
		return "ZOMBIE"
	}
	return "UNKNOWN"
}

// Unbounded marks a resource advertisement as "inf".
const Unbounded uint64 = ^uint64(0)

// CurrentJob describes what the host is doing right now. Zero value means
// idle.
type CurrentJob struct {
	HostID uint32
	JobID  uint32
	Name   string
	User   string
	Group  string
	TimReq uint64
	MemReq uint64
	CPUReq uint64
}

// HostDescriptor is this node's self-description.
type HostDescriptor struct {
	ID       uint32
	Name     string
	User     string
	Group    string
	Port     uint16
	Socket   string
	MemAvail uint64
	CPUAvail uint64
	TimAvail uint64
	Status   Status
	Current  CurrentJob
}

// PeerKey identifies a peer by (id, name) per spec.md.
type PeerKey struct {
	ID   uint32
	Name string
}

// PeerEntry is an observed remote peer.
type PeerEntry struct {
	Host     HostDescriptor
	IPAddr   string
	LastSeen time.Time
}

// JobDef is the declared shape of a queued job, sans the payload bytes.
type JobDef struct {
	Version uint8
	ID      uint32
	MemReq  uint64
	CPUReq  uint64
	TimReq  uint64
	ArgSize uint32
	OptSize uint32
}

// JobEntry is a queued job: the submitting host, its job definition, and
// the two opaque payload blobs.
type JobEntry struct {
	Submitter HostDescriptor
	Def       JobDef
	Arg       []byte
	Opt       []byte
}

// PolicySwitch is one of smartmem/smartcpu/smartshare: an on/off flag plus
// an adaptive coefficient whose meaning is owned by the consumer (the
// resource sampler, for smartmem/smartcpu).
type PolicySwitch struct {
	Enabled bool
	Param   float64
}

// AnnounceFunc is invoked by UpdateHost after the host lock has been
// released, fulfilling the "every mutation is followed by one
// announce_once()" invariant without ever holding a lock across I/O.
type AnnounceFunc func()

// Registry is the process-wide shared state.
type Registry struct {
	mutexHost sync.Mutex
	host      HostDescriptor

	mutexPeers sync.Mutex
	peers      map[PeerKey]PeerEntry

	mutexJobs sync.Mutex
	jobs      *list.List // of JobEntry

	mutexAccess sync.Mutex
	allowUser   map[string]struct{}
	allowHost   map[string]struct{}
	allowGroup  map[string]struct{}

	mutexPolicy sync.Mutex
	smartMem    PolicySwitch
	smartCPU    PolicySwitch
	smartShare  PolicySwitch

	announce AnnounceFunc
}

// New creates a Registry seeded with the given self-descriptor. announce
// may be nil (e.g. in unit tests) in which case UpdateHost is a no-op
// beyond the mutation itself.
func New(self HostDescriptor, announce AnnounceFunc) *Registry {
	return &Registry{
		host:       self,
		peers:      make(map[PeerKey]PeerEntry),
		jobs:       list.New(),
		allowUser:  make(map[string]struct{}),
		allowHost:  make(map[string]struct{}),
		allowGroup: make(map[string]struct{}),
		announce:   announce,
	}
}

// SetAnnounce wires the announce hook after construction, for callers
// that need the registry to exist before the announcer does.
func (r *Registry) SetAnnounce(fn AnnounceFunc) {
	r.announce = fn
}

// UpdateHost applies fn to the host descriptor under lock, then announces
// once after the lock is released. fn must not block.
func (r *Registry) UpdateHost(fn func(*HostDescriptor)) {
	r.mutexHost.Lock()
	fn(&r.host)
	r.mutexHost.Unlock()
	if r.announce != nil {
		r.announce()
	}
}

// Host returns a snapshot of the current host descriptor.
func (r *Registry) Host() HostDescriptor {
	r.mutexHost.Lock()
	defer r.mutexHost.Unlock()
	return r.host
}

// EnqueueJob appends a job to the FIFO queue.
func (r *Registry) EnqueueJob(job JobEntry) {
	r.mutexJobs.Lock()
	defer r.mutexJobs.Unlock()
	r.jobs.PushBack(job)
}

// PeekJob returns the front of the queue without removing it.
func (r *Registry) PeekJob() (JobEntry, bool) {
	r.mutexJobs.Lock()
	defer r.mutexJobs.Unlock()
	e := r.jobs.Front()
	if e == nil {
		return JobEntry{}, false
	}
	return e.Value.(JobEntry), true
}

// PopJob removes and returns the front of the queue.
func (r *Registry) PopJob() (JobEntry, bool) {
	r.mutexJobs.Lock()
	defer r.mutexJobs.Unlock()
	e := r.jobs.Front()
	if e == nil {
		return JobEntry{}, false
	}
	r.jobs.Remove(e)
	return e.Value.(JobEntry), true
}

// JobCount reports how many jobs are queued.
func (r *Registry) JobCount() int {
	r.mutexJobs.Lock()
	defer r.mutexJobs.Unlock()
	return r.jobs.Len()
}

// ClearJobList drops every queued job.
func (r *Registry) ClearJobList() {
	r.mutexJobs.Lock()
	defer r.mutexJobs.Unlock()
	r.jobs.Init()
}

// FindPeer looks a peer up by (id, name).
func (r *Registry) FindPeer(id uint32, name string) (PeerEntry, bool) {
	r.mutexPeers.Lock()
	defer r.mutexPeers.Unlock()
	p, ok := r.peers[PeerKey{ID: id, Name: name}]
	return p, ok
}

// UpsertPeer inserts or refreshes a peer entry, setting LastSeen to now.
func (r *Registry) UpsertPeer(host HostDescriptor, ipaddr string, now time.Time) {
	r.mutexPeers.Lock()
	defer r.mutexPeers.Unlock()
	key := PeerKey{ID: host.ID, Name: host.Name}
	r.peers[key] = PeerEntry{Host: host, IPAddr: ipaddr, LastSeen: now}
}

// SweepPeers evicts entries whose LastSeen is older than expiry, and
// returns how many were removed. Idempotent.
func (r *Registry) SweepPeers(now time.Time, expiry time.Duration) int {
	r.mutexPeers.Lock()
	defer r.mutexPeers.Unlock()
	removed := 0
	for key, entry := range r.peers {
		if now.Sub(entry.LastSeen) > expiry {
			delete(r.peers, key)
			removed++
		}
	}
	return removed
}

// Peers returns a snapshot of the peer table.
func (r *Registry) Peers() []PeerEntry {
	r.mutexPeers.Lock()
	defer r.mutexPeers.Unlock()
	out := make([]PeerEntry, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount reports the number of known peers.
func (r *Registry) PeerCount() int {
	r.mutexPeers.Lock()
	defer r.mutexPeers.Unlock()
	return len(r.peers)
}

func setFromSlice(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// SetAccessLists replaces allowuser/allowhost/allowgroup wholesale. An
// empty slice means "allow all" for that list, preserving the original
// daemon's empty-means-allow semantics.
func (r *Registry) SetAccessLists(users, hosts, groups []string) {
	r.mutexAccess.Lock()
	defer r.mutexAccess.Unlock()
	r.allowUser = setFromSlice(users)
	r.allowHost = setFromSlice(hosts)
	r.allowGroup = setFromSlice(groups)
}

// Allowed reports whether a submission from (user, host, group) passes
// the access lists. Each list empty means "allow all" for that dimension.
func (r *Registry) Allowed(user, host, group string) bool {
	r.mutexAccess.Lock()
	defer r.mutexAccess.Unlock()
	if len(r.allowUser) > 0 {
		if _, ok := r.allowUser[user]; !ok {
			return false
		}
	}
	if len(r.allowHost) > 0 {
		if _, ok := r.allowHost[host]; !ok {
			return false
		}
	}
	if len(r.allowGroup) > 0 {
		if _, ok := r.allowGroup[group]; !ok {
			return false
		}
	}
	return true
}

// PolicyName identifies one of the three adaptive policy switches.
type PolicyName int

const (
	PolicySmartMem PolicyName = iota
	PolicySmartCPU
	PolicySmartShare
)

func (r *Registry) policySlot(name PolicyName) *PolicySwitch {
	switch name {
	case PolicySmartMem:
		return &r.smartMem
	case PolicySmartCPU:
		return &r.smartCPU
	case PolicySmartShare:
		return &r.smartShare
	}
	return nil
}

// SetPolicy sets the enabled flag and initial parameter of one policy
// switch.
func (r *Registry) SetPolicy(name PolicyName, enabled bool, param float64) {
	r.mutexPolicy.Lock()
	defer r.mutexPolicy.Unlock()
	slot := r.policySlot(name)
	slot.Enabled = enabled
	slot.Param = param
}

// Policy returns the current state of one policy switch.
func (r *Registry) Policy(name PolicyName) PolicySwitch {
	r.mutexPolicy.Lock()
	defer r.mutexPolicy.Unlock()
	return *r.policySlot(name)
}

// UpdatePolicyParam applies fn to a policy switch's Param under lock.
// Used by the resource sampler to update its EMA coefficient.
func (r *Registry) UpdatePolicyParam(name PolicyName, fn func(float64) float64) {
	r.mutexPolicy.Lock()
	defer r.mutexPolicy.Unlock()
	slot := r.policySlot(name)
	slot.Param = fn(slot.Param)
}
