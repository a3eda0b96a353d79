package phasebus

import (
	"sync"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/phases"
)

// tierQueue is one FIFO priority tier behind its own lock.
type tierQueue struct {
	mu       sync.Mutex
	messages []*PhaseMessage
}

func (q *tierQueue) push(msg *PhaseMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
}

func (q *tierQueue) pop() *PhaseMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil
	}
	msg := q.messages[0]
	q.messages = q.messages[1:]
	return msg
}

func (q *tierQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *tierQueue) snapshot() []*PhaseMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*PhaseMessage, len(q.messages))
	copy(out, q.messages)
	return out
}

func (q *tierQueue) replace(messages []*PhaseMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append([]*PhaseMessage{}, messages...)
}

// priorityQueues holds the four strictly ordered tiers.
type priorityQueues struct {
	tiers [4]*tierQueue
}

func newPriorityQueues() *priorityQueues {
	return &priorityQueues{
		tiers: [4]*tierQueue{{}, {}, {}, {}},
	}
}

func (p *priorityQueues) tier(priority phases.Priority) *tierQueue {
	if priority < phases.PriorityLow || priority > phases.PriorityCritical {
		priority = phases.PriorityNormal
	}
	return p.tiers[priority]
}

// popHighest dequeues from the highest non-empty tier.
func (p *priorityQueues) popHighest() *PhaseMessage {
	for priority := phases.PriorityCritical; priority >= phases.PriorityLow; priority-- {
		if msg := p.tiers[priority].pop(); msg != nil {
			return msg
		}
	}
	return nil
}

func (p *priorityQueues) stats() QueueStats {
	stats := QueueStats{
		Critical: p.tiers[phases.PriorityCritical].len(),
		High:     p.tiers[phases.PriorityHigh].len(),
		Normal:   p.tiers[phases.PriorityNormal].len(),
		Low:      p.tiers[phases.PriorityLow].len(),
	}
	stats.Total = stats.Critical + stats.High + stats.Normal + stats.Low
	return stats
}
