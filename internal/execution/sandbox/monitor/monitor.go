// Package monitor samples resident memory and elapsed time of a process tree.
package monitor

import (
	"context"
	"iter"
	"os"
	"slices"
	"sync"
	"time"

	"runbox/internal/execution/sandbox/spec"
	appErr "runbox/pkg/errors"

	"github.com/prometheus/procfs"
)

const (
	// DefaultPollInterval is small relative to the tightest expected time limit.
	DefaultPollInterval = 20 * time.Millisecond
	defaultProcRoot     = procfs.DefaultMountPoint
)

// Breach names the ceiling a sample crossed.
type Breach string

const (
	BreachNone   Breach = ""
	BreachTime   Breach = "time"
	BreachMemory Breach = "memory"
)

// Sample is one observation of a process tree.
type Sample struct {
	ElapsedMs int64
	// MemoryKB is the resident memory of every live tree member at this tick.
	MemoryKB int64
	// PeakMemoryKB is the running maximum of MemoryKB over the watch.
	PeakMemoryKB int64
	// Alive is false once no tree member is left running.
	Alive  bool
	Breach Breach
}

// Config controls sampling.
type Config struct {
	PollInterval time.Duration
	ProcRoot     string
}

// Monitor reads process state from procfs.
type Monitor struct {
	fs       procfs.FS
	interval time.Duration
}

// New creates a monitor over the given proc mount.
func New(cfg Config) (*Monitor, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProcRoot == "" {
		cfg.ProcRoot = defaultProcRoot
	}
	fs, err := procfs.NewFS(cfg.ProcRoot)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ProcessMonitorFailed, "open procfs %s failed", cfg.ProcRoot)
	}
	return &Monitor{fs: fs, interval: cfg.PollInterval}, nil
}

// PollInterval returns the sampling period.
func (m *Monitor) PollInterval() time.Duration {
	return m.interval
}

// Sample returns the summed resident memory in KB of pid and every live
// descendant. It returns 0 when the process no longer exists.
func (m *Monitor) Sample(pid int) int64 {
	_, memKB := m.Track(pid, "").Refresh()
	return memKB
}

// Tree returns the pids of pid and its live descendants.
func (m *Monitor) Tree(pid int) []int {
	live, _ := m.Track(pid, "").Refresh()
	return pids(live)
}

// Watch samples the tree rooted at pid. See Tracker.Watch.
func (m *Monitor) Watch(ctx context.Context, pid int, start time.Time, limits spec.ResourceLimit) iter.Seq[Sample] {
	return m.Track(pid, "").Watch(ctx, start, limits)
}

// Member is one process of a tracked tree.
type Member struct {
	PID       int
	PPID      int
	PGRP      int
	StartTime uint64
	Zombie    bool
}

// Tracker follows one process tree across samples. A process seen in the
// tree once stays tracked by (pid, start time) until it is gone, so members
// that detach with setsid or lose their parent are still found. Processes
// started after the root whose environment carries token are adopted too.
type Tracker struct {
	m     *Monitor
	root  int
	token string
	self  int

	mu        sync.Mutex
	scanned   bool
	rootStart uint64
	known     map[int]uint64
	members   []Member
}

// Track starts following root and takes a first snapshot. Call it while
// root is still unreaped so its start time can be recorded.
func (m *Monitor) Track(root int, token string) *Tracker {
	t := &Tracker{
		m:     m,
		root:  root,
		token: token,
		self:  os.Getpid(),
		known: make(map[int]uint64),
	}
	t.Refresh()
	return t
}

// Root returns the pid the tracker was started for.
func (t *Tracker) Root() int {
	return t.root
}

type procEntry struct {
	proc procfs.Proc
	stat procfs.ProcStat
}

// Refresh walks the process table once and returns the live members with
// their summed resident memory in KB.
func (t *Tracker) Refresh() ([]Member, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root <= 0 {
		return nil, 0
	}
	procs, err := t.m.fs.AllProcs()
	if err != nil {
		// keep the previous view rather than report the tree as gone
		return live(t.members), 0
	}

	table := make(map[int]procEntry, len(procs))
	children := make(map[int][]int)
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			// exited between listing and read
			continue
		}
		table[st.PID] = procEntry{proc: p, stat: st}
		children[st.PPID] = append(children[st.PPID], st.PID)
	}

	var queue []int
	rootLive := false
	if e, ok := table[t.root]; ok {
		if !t.scanned {
			t.rootStart = e.stat.Starttime
		}
		if t.rootStart != 0 && e.stat.Starttime == t.rootStart {
			rootLive = true
			queue = append(queue, t.root)
		}
	}
	t.scanned = true

	groupHeld := rootLive || t.rootStart == 0
	for pid, started := range t.known {
		e, ok := table[pid]
		if !ok || e.stat.Starttime != started {
			delete(t.known, pid)
			continue
		}
		queue = append(queue, pid)
		if e.stat.PGRP == t.root {
			groupHeld = true
		}
	}

	for pid, e := range table {
		if pid == t.self {
			continue
		}
		if _, ok := t.known[pid]; ok {
			continue
		}
		// the group id cannot be reused while a tracked member still holds it
		if groupHeld && e.stat.PGRP == t.root {
			queue = append(queue, pid)
			continue
		}
		if t.adoptable(e) {
			queue = append(queue, pid)
		}
	}

	seen := make(map[int]bool, len(queue))
	var members []Member
	var memKB int64
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true
		e, ok := table[pid]
		if !ok {
			continue
		}
		st := e.stat
		if pid != t.root {
			t.known[pid] = st.Starttime
		}
		member := Member{PID: pid, PPID: st.PPID, PGRP: st.PGRP, StartTime: st.Starttime, Zombie: !running(st)}
		members = append(members, member)
		if !member.Zombie {
			memKB += int64(st.ResidentMemory()) / 1024
		}
		queue = append(queue, children[pid]...)
	}
	t.members = members
	return live(members), memKB
}

// adoptable reports whether e was started by this run but is no longer
// connected to it by parent links.
func (t *Tracker) adoptable(e procEntry) bool {
	if t.token == "" || t.rootStart == 0 || e.stat.Starttime < t.rootStart {
		return false
	}
	env, err := e.proc.Environ()
	if err != nil {
		return false
	}
	return slices.Contains(env, t.token)
}

// Zombies returns exited members that were reparented to this process and
// must be reaped by it. The root is left to its own waiter.
func (t *Tracker) Zombies() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for _, mem := range t.members {
		if mem.Zombie && mem.PPID == t.self && mem.PID != t.root {
			out = append(out, mem.PID)
		}
	}
	return out
}

// Watch lazily samples the tree every poll interval. The sequence ends after
// the first breach, once the tree is gone, when ctx is done, or when the
// consumer stops pulling.
func (t *Tracker) Watch(ctx context.Context, start time.Time, limits spec.ResourceLimit) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		ticker := time.NewTicker(t.m.interval)
		defer ticker.Stop()

		var deadline <-chan time.Time
		if d := limits.Deadline(); d > 0 {
			timer := time.NewTimer(time.Until(start.Add(d)))
			defer timer.Stop()
			deadline = timer.C
		}

		var peak int64
		for {
			members, memKB := t.Refresh()
			if memKB > peak {
				peak = memKB
			}
			sample := Sample{
				ElapsedMs:    time.Since(start).Milliseconds(),
				MemoryKB:     memKB,
				PeakMemoryKB: peak,
				Alive:        len(members) > 0,
			}
			switch {
			case limits.MemoryExceeded(memKB):
				sample.Breach = BreachMemory
			case limits.TimeExceeded(sample.ElapsedMs):
				sample.Breach = BreachTime
			}
			if !yield(sample) || sample.Breach != BreachNone || !sample.Alive {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-deadline:
				deadline = nil
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func live(members []Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if !m.Zombie {
			out = append(out, m)
		}
	}
	return out
}

func pids(members []Member) []int {
	out := make([]int, 0, len(members))
	for _, m := range members {
		out = append(out, m.PID)
	}
	return out
}

func running(st procfs.ProcStat) bool {
	switch st.State {
	case "Z", "X", "x":
		return false
	}
	return true
}
