// Package idle implements the Idle Controller: a dual-cadence background
// task that keeps workers alive, suspends them after a client-idle
// window, briefly resumes them so their own inbox polling can observe new
// files, and republishes diagnostics.
//
// Two cadences, not one, because resuming for ~20ms every 80ms gives
// suspended workers roughly a 25% duty cycle — enough to notice a fresh
// job file quickly — while the coarser 2600ms cadence keeps supervision
// and diagnostics IO from adding needless syscall pressure.
package idle

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/oliana-project/oliana/internal/diagcache"
	"github.com/oliana-project/oliana/internal/supervisor"
)

const (
	resumeTick      = 80 * time.Millisecond
	maintenanceTick = 2600 * time.Millisecond
	resumeDuration  = 20 * time.Millisecond
	idleThreshold   = 24 * time.Second
)

// ActivityClock reports when any client last connected or began a job.
// The RPC Gateway satisfies this.
type ActivityClock interface {
	LastClientActivity() time.Time
}

// Controller drives the resume and maintenance ticks described in the
// package doc.
type Controller struct {
	log     *slog.Logger
	sup     *supervisor.Supervisor
	clock   ActivityClock
	cache   *diagcache.Writer
	suspendCapable bool

	wasLatched bool
}

// New builds a Controller. suspendCapable gates the suspend/resume half
// of the maintenance tick for platforms without OS-level process-group
// signals; this reimplementation targets Unix, so it's always true here,
// but the field is kept to document the platform gate from the design.
func New(log *slog.Logger, sup *supervisor.Supervisor, clock ActivityClock, cache *diagcache.Writer, suspendCapable bool) *Controller {
	return &Controller{
		log:            log,
		sup:            sup,
		clock:          clock,
		cache:          cache,
		suspendCapable: suspendCapable,
	}
}

// Run blocks, driving both ticks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	resumeTicker := time.NewTicker(resumeTick)
	defer resumeTicker.Stop()
	maintenanceTicker := time.NewTicker(maintenanceTick)
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resumeTicker.C:
			c.sup.ResumeBriefly(resumeDuration)
		case <-maintenanceTicker.C:
			c.runMaintenanceTick()
		}
	}
}

func (c *Controller) runMaintenanceTick() {
	if err := c.sup.EnsureAllRunning(); err != nil {
		c.log.Error("ensure_all_running failed", "err", err)
	}

	if c.suspendCapable {
		idleFor := time.Since(c.clock.LastClientActivity())
		latched := idleFor > idleThreshold
		if latched && !c.wasLatched {
			c.log.Info("no client activity, suspending workers", "idle_for", idleFor)
		}
		if latched != c.sup.ProcsShouldBeStopped() {
			c.sup.SetProcsShouldBeStopped(latched)
		}
		c.wasLatched = latched
	}

	if c.cache == nil {
		return
	}
	tails := c.sup.SnapshotOutputTails()
	if err := c.cache.PublishRestartCounts(c.sup.SnapshotRestartCounts()); err != nil {
		c.log.Warn("publish restart counts failed", "err", err)
	}
	if err := c.cache.PublishOutputTails(tails); err != nil {
		c.log.Warn("publish output tails failed", "err", err)
	}
	c.log.Debug("diagnostics published", "total_tail_size", humanize.Bytes(totalTailBytes(tails)))
}

func totalTailBytes(tails map[string]string) uint64 {
	var total uint64
	for _, tail := range tails {
		total += uint64(len(tail))
	}
	return total
}
