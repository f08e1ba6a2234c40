package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"cmtools/internal/config"
	"cmtools/internal/engine"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/services"
)

// ErrLocked reports that another daemon already owns the campaign.
var ErrLocked = errors.New("campaign is locked by another daemon")

// Daemon advances a single campaign in a loop.
type Daemon struct {
	engine   *engine.Engine
	logger   *slog.Logger
	campaign string

	lockPath string
	lock     *flock.Flock

	pollInterval  time.Duration
	maxIterations int
	autoAccept    bool
	maxRunning    int
}

// Outcome is why and where the loop stopped.
type Outcome struct {
	Iterations int
	Status     hierarchy.Status
	Reason     string
}

// New constructs a daemon for campaign. The lock is taken by Run.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, campaign string) (*Daemon, error) {
	if cfg == nil || eng == nil {
		return nil, errors.New("daemon requires config and engine")
	}
	campaign = strings.Trim(strings.TrimSpace(campaign), "/")
	if level, err := hierarchy.LevelOfFullname(campaign); err != nil || level != hierarchy.LevelCampaign {
		return nil, services.Wrap(services.ErrValidation, "daemon", "new", fmt.Sprintf("%q does not name a campaign", campaign), nil)
	}
	lockPath := filepath.Join(cfg.LockDir(), strings.ReplaceAll(campaign, "/", "__")+".lock")
	return &Daemon{
		engine:        eng,
		logger:        logging.NewComponentLogger(logger, "daemon").With(logging.String(logging.FieldEntity, campaign)),
		campaign:      campaign,
		lockPath:      lockPath,
		lock:          flock.New(lockPath),
		pollInterval:  time.Duration(cfg.Daemon.PollIntervalSeconds) * time.Second,
		maxIterations: cfg.Daemon.MaxIterations,
		autoAccept:    cfg.Daemon.AutoAccept,
		maxRunning:    cfg.Engine.MaxRunning,
	}, nil
}

// LockPath is where the campaign lock file lives.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Run loops until the campaign is ACCEPTED, needs an operator, the iteration
// budget is spent, or ctx is cancelled. Cancellation is not an error.
func (d *Daemon) Run(ctx context.Context) (Outcome, error) {
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return Outcome{}, fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrLocked, d.lockPath)
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release campaign lock", logging.Error(err))
		}
	}()

	d.logger.Info("campaign daemon started",
		logging.String("lock", d.lockPath),
		logging.Duration("poll_interval", d.pollInterval),
		logging.Int("max_iterations", d.maxIterations),
	)

	var out Outcome
	for {
		if ctx.Err() != nil {
			out.Reason = "interrupted"
			break
		}
		out.Iterations++
		if err := d.cycle(ctx); err != nil {
			return out, err
		}

		done, status, reason, err := d.finished(ctx)
		if err != nil {
			return out, err
		}
		out.Status = status
		if done {
			out.Reason = reason
			break
		}
		if d.maxIterations > 0 && out.Iterations >= d.maxIterations {
			out.Reason = "max iterations reached"
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(d.pollInterval):
		}
	}

	d.logger.Info("campaign daemon stopped",
		logging.Int("iterations", out.Iterations),
		logging.Status(out.Status),
		logging.String("reason", out.Reason),
	)
	return out, nil
}

type step struct {
	name string
	run  func(ctx context.Context) (*engine.Result, error)
}

func (d *Daemon) steps() []step {
	steps := []step{
		{"prepare", func(ctx context.Context) (*engine.Result, error) { return d.engine.Prepare(ctx, d.campaign) }},
		{"queue", func(ctx context.Context) (*engine.Result, error) { return d.engine.Queue(ctx, d.campaign) }},
		{"launch", func(ctx context.Context) (*engine.Result, error) {
			return d.engine.Launch(ctx, d.campaign, d.maxRunning)
		}},
		{"check", func(ctx context.Context) (*engine.Result, error) { return d.engine.Check(ctx, d.campaign) }},
	}
	if d.autoAccept {
		steps = append(steps, step{"accept", func(ctx context.Context) (*engine.Result, error) {
			return d.engine.Accept(ctx, d.campaign, true)
		}})
	}
	return steps
}

// cycle runs one pass of operations. Retryable failures are logged and left
// for the next cycle; anything else stops the daemon.
func (d *Daemon) cycle(ctx context.Context) error {
	for _, s := range d.steps() {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.run(context.WithoutCancel(ctx))
		if err != nil {
			if services.Retryable(err) {
				logging.WarnWithContext(d.logger, s.name+" incomplete", "daemon_retry",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "will retry next cycle"),
				)
				continue
			}
			return fmt.Errorf("%s: %w", s.name, err)
		}
		if res.Changed() {
			d.logger.Debug(s.name+" applied changes", logging.Int("changes", len(res.Changes)))
		}
	}
	return nil
}

// finished reports whether the loop should stop on the campaign's state.
func (d *Daemon) finished(ctx context.Context) (bool, hierarchy.Status, string, error) {
	nodes, err := d.engine.Subtree(ctx, d.campaign)
	if err != nil {
		return false, "", "", err
	}
	campaign := nodes[0]
	status := campaign.EffectiveStatus()
	switch status {
	case hierarchy.StatusAccepted:
		return true, status, "campaign accepted", nil
	case hierarchy.StatusFailed, hierarchy.StatusRejected:
		for _, n := range nodes {
			if !n.Active {
				continue
			}
			if n.Status == hierarchy.StatusRunning && n.Level == hierarchy.LevelJob {
				return false, status, "", nil
			}
			if n.Queued {
				return false, status, "", nil
			}
		}
		return true, status, "campaign needs operator attention", nil
	case hierarchy.StatusSuperseded:
		return true, status, "campaign is inactive", nil
	}
	return false, status, "", nil
}
