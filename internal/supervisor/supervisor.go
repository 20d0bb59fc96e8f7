// Package supervisor owns the pool of tracked worker processes. It ensures
// registered workers are running, restarts them on exit, broadcasts
// suspend/resume signals to the group, and publishes restart tallies and
// output tails for the diagnostics cache.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oliana-project/oliana/internal/worker"
)

type registration struct {
	name string
	args []string
}

// Supervisor holds the worker records, keyed by name, plus the ordered
// registration list needed to resolve and spawn them. EnsureAllRunning
// follows registration order; SignalAll and the Snapshot accessors visit
// the records in no particular order. The zero value is not usable; use
// New.
type Supervisor struct {
	mu sync.RWMutex

	log      *slog.Logger
	binDir   string
	trackDir string

	registered []registration
	records    map[string]*worker.Record

	procsShouldBeStopped bool
}

// New builds a Supervisor that resolves worker binaries under binDir and
// keeps pid/stdout/stderr files under trackDir.
func New(log *slog.Logger, binDir, trackDir string) *Supervisor {
	return &Supervisor{
		log:      log,
		binDir:   binDir,
		trackDir: trackDir,
		records:  make(map[string]*worker.Record),
	}
}

// Register appends a worker configuration. It has no side effect on
// running child processes until the next EnsureAllRunning.
func (s *Supervisor) Register(name string, args []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, registration{name: name, args: args})
}

// EnsureAllRunning walks every registered worker: if a record exists,
// refresh its output tail and liveness; if it's not running, spawn it. If
// no record exists yet, resolve the binary path and spawn for the first
// time.
//
// This runs on the maintenance tick, so it takes the write lock with
// TryLock and skips the tick entirely on contention rather than blocking
// behind a slower caller.
func (s *Supervisor) EnsureAllRunning() error {
	if !s.mu.TryLock() {
		s.log.Debug("ensure_all_running skipped, lock contended")
		return nil
	}
	defer s.mu.Unlock()

	for _, reg := range s.registered {
		rec, ok := s.records[reg.name]
		if ok {
			if err := rec.RefreshOutputTail(); err != nil {
				s.log.Warn("refresh output tail failed", "worker", reg.name, "err", err)
			}
			running, err := rec.IsRunning()
			if err != nil {
				s.log.Warn("is_running check failed", "worker", reg.name, "err", err)
			}
			if running {
				continue
			}
			if err := rec.Spawn(); err != nil {
				s.log.Error("respawn failed", "worker", reg.name, "err", err)
			}
			continue
		}

		path, err := worker.FindNewestBinary(s.binDir, reg.name)
		if err != nil {
			s.log.Error("binary resolution failed", "worker", reg.name, "err", err)
			continue
		}
		rec = worker.NewRecord(reg.name, path, s.trackDir, reg.args)
		if err := rec.Spawn(); err != nil {
			s.log.Error("initial spawn failed", "worker", reg.name, "err", err)
			continue
		}
		s.records[reg.name] = rec
	}
	return nil
}

// SignalAll sends sig to the last-known PID of every tracked worker. A
// failure to signal one worker is logged and does not stop the others.
//
// Called from the resume tick and from SetProcsShouldBeStopped, both hot
// paths, so it takes the read lock with TryRLock and skips this round of
// signaling on contention rather than blocking.
func (s *Supervisor) SignalAll(sig unix.Signal) {
	if !s.mu.TryRLock() {
		return
	}
	defer s.mu.RUnlock()

	for name, rec := range s.records {
		pid := rec.LastKnownPID()
		if pid == 0 {
			continue
		}
		if err := unix.Kill(pid, sig); err != nil {
			s.log.Warn("signal failed", "worker", name, "pid", pid, "signal", sig, "err", err)
		}
	}
}

// SetProcsShouldBeStopped transitions the stop latch. false→true is
// latched only (the Idle Controller interleaves CONT/STOP later);
// true→false immediately sends a single CONT to every worker.
//
// Called from the maintenance tick and from the accept/begin hot path
// (Gateway.touchActivity), so the write lock is taken with TryLock: on
// contention the call is skipped rather than queued, matching the same
// non-blocking discipline as EnsureAllRunning.
func (s *Supervisor) SetProcsShouldBeStopped(flag bool) {
	if !s.mu.TryLock() {
		return
	}
	wasStopped := s.procsShouldBeStopped
	s.procsShouldBeStopped = flag
	s.mu.Unlock()

	if wasStopped && !flag {
		s.SignalAll(unix.SIGCONT)
	}
}

// ProcsShouldBeStopped reports the current latch value. It takes the read
// lock with TryRLock, defaulting to false (not stopped) on contention so a
// contended caller never mistakenly treats workers as suspended.
func (s *Supervisor) ProcsShouldBeStopped() bool {
	if !s.mu.TryRLock() {
		return false
	}
	defer s.mu.RUnlock()
	return s.procsShouldBeStopped
}

// ResumeBriefly, when the latch is set, sends CONT to every worker, sleeps
// for d, then sends STOP again. It is a no-op when the latch is clear.
func (s *Supervisor) ResumeBriefly(d time.Duration) {
	if !s.ProcsShouldBeStopped() {
		return
	}
	s.SignalAll(unix.SIGCONT)
	time.Sleep(d)
	s.SignalAll(unix.SIGSTOP)
}

// SnapshotRestartCounts returns restart_count for every tracked worker,
// for publication to the diagnostics cache.
func (s *Supervisor) SnapshotRestartCounts() map[string]uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]uint32, len(s.records))
	for name, rec := range s.records {
		out[name] = rec.RestartCount()
	}
	return out
}

// SnapshotOutputTails returns the accumulated output tail for every
// tracked worker, for publication to the diagnostics cache.
func (s *Supervisor) SnapshotOutputTails() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.records))
	for name, rec := range s.records {
		out[name] = rec.OutputTail()
	}
	return out
}

// RecordNames returns the names of workers that have been spawned at
// least once.
func (s *Supervisor) RecordNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.records))
	for name := range s.records {
		names = append(names, name)
	}
	return names
}

func (s *Supervisor) String() string {
	return fmt.Sprintf("Supervisor{workers=%d, stopped=%v}", len(s.records), s.ProcsShouldBeStopped())
}
