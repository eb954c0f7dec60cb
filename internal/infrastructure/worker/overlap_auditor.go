package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/service"
	"github.com/garyjia/procure-approval/pkg/metrics"
)

// OverlapFinder is the slice of BudgetRuleService the auditor needs
type OverlapFinder interface {
	FindOverlaps(ctx context.Context) ([]service.RuleOverlap, error)
}

// OverlapAuditor periodically scans active budget rules for intersecting
// ranges and publishes the count as a gauge.
type OverlapAuditor struct {
	finder   OverlapFinder
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastCount int
	lastRun   time.Time
}

// NewOverlapAuditor creates an auditor that runs every interval
func NewOverlapAuditor(finder OverlapFinder, interval time.Duration, logger *zap.Logger) *OverlapAuditor {
	return &OverlapAuditor{
		finder:   finder,
		interval: interval,
		logger:   logger,
	}
}

// Name returns the worker name
func (a *OverlapAuditor) Name() string {
	return "OverlapAuditor"
}

// Start runs one audit immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (a *OverlapAuditor) Start(ctx context.Context) error {
	if a.interval <= 0 {
		return fmt.Errorf("overlap audit interval must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("overlap auditor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.running = true

	go a.loop(runCtx, a.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight audit to finish
func (a *OverlapAuditor) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	<-done
	return nil
}

// LastResult returns the overlap count from the latest successful audit and
// when it ran. The zero time means no audit has completed.
func (a *OverlapAuditor) LastResult() (int, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastCount, a.lastRun
}

func (a *OverlapAuditor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.audit(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.audit(ctx)
		}
	}
}

// audit runs a single scan
func (a *OverlapAuditor) audit(ctx context.Context) {
	overlaps, err := a.finder.FindOverlaps(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("Budget rule overlap audit failed", zap.Error(err))
		}
		return
	}

	metrics.BudgetRuleOverlaps.Set(float64(len(overlaps)))
	for _, o := range overlaps {
		a.logger.Warn("Overlapping budget rules",
			zap.String("department_id", o.DepartmentID),
			zap.String("first_rule_id", o.First.ID),
			zap.String("second_rule_id", o.Second.ID))
	}

	a.mu.Lock()
	a.lastCount = len(overlaps)
	a.lastRun = time.Now()
	a.mu.Unlock()
}
