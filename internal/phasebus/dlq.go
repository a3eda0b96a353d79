package phasebus

import (
	"fmt"
	"sort"
)

// GetDeadLetterQueue returns dead-letter entries, newest first, optionally
// filtered by phase and failure time. The result is a snapshot copy.
func (b *EnhancedBus) GetDeadLetterQueue(filter DeadLetterFilter) []*DeadLetterEntry {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()

	matched := make([]*DeadLetterEntry, 0, len(b.deadLetter))
	for _, entry := range b.deadLetter {
		if filter.Phase != nil && entry.Message.CurrentPhase != *filter.Phase {
			continue
		}
		if !filter.Since.IsZero() && entry.FailedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].FailedAt.After(matched[j].FailedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// RetryDeadLetterMessage removes the entry from the dead-letter queue,
// resets its retry budget and re-enqueues it. A message that no longer
// validates is rejected and stays removed.
func (b *EnhancedBus) RetryDeadLetterMessage(messageID string) error {
	b.dlqMu.Lock()
	var entry *DeadLetterEntry
	for i, candidate := range b.deadLetter {
		if candidate.Message.MessageID == messageID {
			entry = candidate
			b.deadLetter = append(b.deadLetter[:i], b.deadLetter[i+1:]...)
			break
		}
	}
	b.dlqMu.Unlock()

	if entry == nil {
		return fmt.Errorf("message %s is not in the dead-letter queue", messageID)
	}

	msg := entry.Message
	msg.RetryCount = 0

	if err := b.validate(msg); err != nil {
		return fmt.Errorf("message %s no longer validates: %w", messageID, err)
	}

	b.enqueue(msg)
	return nil
}

// DrainDeadLetterQueue removes and returns every dead-letter entry.
func (b *EnhancedBus) DrainDeadLetterQueue() []*DeadLetterEntry {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()

	drained := b.deadLetter
	b.deadLetter = nil
	return drained
}
