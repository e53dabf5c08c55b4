package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner runs Prune on a cron schedule.
type Pruner struct {
	cron      *cron.Cron
	log       *Log
	retention time.Duration
}

// NewPruner schedules retention pruning. schedule is a standard five-field
// cron expression, e.g. "0 * * * *" for hourly.
func NewPruner(log *Log, schedule string, retention time.Duration) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("audit: retention must be positive")
	}
	p := &Pruner{cron: cron.New(), log: log, retention: retention}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("audit: invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := p.log.Prune(ctx, p.retention)
	if err != nil {
		p.log.logger.Error("audit prune failed", "error", err)
		return
	}
	if n > 0 {
		p.log.logger.Info("pruned audit entries", "removed", n, "retention", p.retention)
	}
}

// Start begins the schedule.
func (p *Pruner) Start() { p.cron.Start() }

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}
