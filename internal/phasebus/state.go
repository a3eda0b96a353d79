package phasebus

import (
	"context"
	"fmt"
	"time"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
)

// ExportState returns a serializable snapshot of all queues, the dead-letter
// queue and the metrics.
func (b *EnhancedBus) ExportState() *Snapshot {
	queues := map[string][]*PhaseMessage{
		phases.PriorityCritical.String(): b.queues.tier(phases.PriorityCritical).snapshot(),
		phases.PriorityHigh.String():     b.queues.tier(phases.PriorityHigh).snapshot(),
		phases.PriorityNormal.String():   b.queues.tier(phases.PriorityNormal).snapshot(),
		phases.PriorityLow.String():      b.queues.tier(phases.PriorityLow).snapshot(),
	}

	b.dlqMu.Lock()
	deadLetter := make([]*DeadLetterEntry, len(b.deadLetter))
	copy(deadLetter, b.deadLetter)
	b.dlqMu.Unlock()

	return &Snapshot{
		Queues:     queues,
		DeadLetter: deadLetter,
		Metrics:    b.GetMetrics(),
		Timestamp:  time.Now().UTC(),
	}
}

// ImportState atomically replaces the in-memory queues, dead-letter queue
// and counters with the snapshot's. Any in-flight delivery loop is stopped
// before the replacement and restarted afterwards.
func (b *EnhancedBus) ImportState(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}

	b.runMu.Lock()
	wasRunning := b.cancelRun != nil
	b.runMu.Unlock()
	if wasRunning {
		b.Stop()
	}

	for _, priority := range []phases.Priority{
		phases.PriorityCritical, phases.PriorityHigh, phases.PriorityNormal, phases.PriorityLow,
	} {
		b.queues.tier(priority).replace(snapshot.Queues[priority.String()])
	}

	b.dlqMu.Lock()
	b.deadLetter = append([]*DeadLetterEntry{}, snapshot.DeadLetter...)
	b.dlqMu.Unlock()

	b.metricsMu.Lock()
	b.metrics = snapshot.Metrics
	b.metrics.CurrentlyProcessing = false
	b.metricsMu.Unlock()

	if wasRunning {
		b.Start(ctx)
	}
	return nil
}

// PersistState exports the current state and saves it through the snapshot
// repository.
func (b *EnhancedBus) PersistState(ctx context.Context) error {
	if b.repo == nil {
		return fmt.Errorf("no snapshot repository configured")
	}
	return b.repo.Save(ctx, b.ExportState())
}

// RestoreState loads the most recent snapshot from the repository and
// imports it. Restoring with an empty repository is a no-op.
func (b *EnhancedBus) RestoreState(ctx context.Context) error {
	if b.repo == nil {
		return fmt.Errorf("no snapshot repository configured")
	}

	snapshot, err := b.repo.Latest(ctx)
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	return b.ImportState(ctx, snapshot)
}
