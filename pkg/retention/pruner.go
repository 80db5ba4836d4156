package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"apirelay-hq/relay/pkg/config"
)

// Store is the persistence surface the pruner needs.
type Store interface {
	PruneRequestLogs(ctx context.Context, before time.Time) (int64, error)
	PruneSwitchEvents(ctx context.Context, before time.Time) (int64, error)
}

// Result counts the rows removed by one prune run.
type Result struct {
	RequestLogs  int64
	SwitchEvents int64
}

// Total returns the number of rows removed across both tables.
func (r Result) Total() int64 {
	return r.RequestLogs + r.SwitchEvents
}

// Pruner deletes rows older than the configured retention periods.
type Pruner struct {
	store  Store
	config config.RetentionConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewPruner creates a pruner for store.
func NewPruner(store Store, cfg config.RetentionConfig) *Pruner {
	return &Pruner{
		store:  store,
		config: cfg,
		logger: slog.Default().With("component", "retention"),
		now:    time.Now,
	}
}

// Prune removes request logs older than Days and, when SwitchLogDays is
// positive, switch events older than SwitchLogDays. A zero period keeps
// that table forever.
func (p *Pruner) Prune(ctx context.Context) (Result, error) {
	var res Result
	now := p.now()

	if p.config.Days > 0 {
		cutoff := now.AddDate(0, 0, -p.config.Days)
		deleted, err := p.store.PruneRequestLogs(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("prune request logs: %w", err)
		}
		res.RequestLogs = deleted
		p.logger.Debug("pruned request logs", "cutoff", cutoff, "deleted_count", deleted)
	}

	if p.config.SwitchLogDays > 0 {
		cutoff := now.AddDate(0, 0, -p.config.SwitchLogDays)
		deleted, err := p.store.PruneSwitchEvents(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("prune switch events: %w", err)
		}
		res.SwitchEvents = deleted
		p.logger.Debug("pruned switch events", "cutoff", cutoff, "deleted_count", deleted)
	}

	return res, nil
}
