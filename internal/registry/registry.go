package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/RobertAgterhuis/AgenticCoder-sub011/internal/agent"
)

// CycleError reports a circular dependency between registered agents.
type CycleError struct {
	Node string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected involving agent %s", e.Node)
}

// Registry is the single source of truth for agent identity. It owns every
// registered agent for its lifetime; other components hold non-owning
// references obtained via Get.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agent.Agent
	byType map[agent.Type][]string
	logger *log.Logger
}

// New creates an empty registry.
func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		agents: make(map[string]*agent.Agent),
		byType: make(map[agent.Type][]string),
		logger: logger,
	}
}

// Register stores an agent by id and indexes it by type. Duplicate ids are
// refused.
func (r *Registry) Register(a *agent.Agent) error {
	if a == nil {
		return fmt.Errorf("agent cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.ID()
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("agent %s is already registered", id)
	}

	def := a.Definition()
	r.agents[id] = a
	r.byType[def.Type] = append(r.byType[def.Type], id)

	r.logger.WithFields(log.Fields{
		"agent_id": id,
		"type":     def.Type,
		"version":  def.Version,
	}).Info("Agent registered")

	return nil
}

// Unregister cleans up the agent and removes it from all indexes.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	a, exists := r.agents[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("agent %s is not registered", id)
	}

	delete(r.agents, id)
	agentType := a.Definition().Type
	ids := r.byType[agentType]
	for i, existing := range ids {
		if existing == id {
			r.byType[agentType] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byType[agentType]) == 0 {
		delete(r.byType, agentType)
	}
	r.mu.Unlock()

	if err := a.Cleanup(ctx); err != nil {
		return fmt.Errorf("agent %s cleanup: %w", id, err)
	}

	r.logger.WithField("agent_id", id).Info("Agent unregistered")
	return nil
}

// Get returns the agent registered under id.
func (r *Registry) Get(id string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.agents[id]
	if !exists {
		return nil, fmt.Errorf("agent %s is not registered", id)
	}
	return a, nil
}

// Has reports whether an agent is registered under id.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.agents[id]
	return exists
}

// FindByType returns the agents of the given type, in registration order.
func (r *Registry) FindByType(agentType agent.Type) []*agent.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byType[agentType]
	found := make([]*agent.Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			found = append(found, a)
		}
	}
	return found
}

// IDs returns every registered agent id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// ResolveDependencies returns the agent's transitive dependencies in
// initialization order (dependencies first, the agent itself last). A
// dependency cycle fails the call with a CycleError.
func (r *Registry) ResolveDependencies(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.agents[id]; !exists {
		return nil, fmt.Errorf("agent %s is not registered", id)
	}

	var order []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(current string) error
	visit = func(current string) error {
		if inStack[current] {
			return &CycleError{Node: current}
		}
		if visited[current] {
			return nil
		}

		visited[current] = true
		inStack[current] = true

		if a, ok := r.agents[current]; ok {
			deps := append([]string{}, a.Definition().Dependencies...)
			sort.Strings(deps)
			for _, dep := range deps {
				if _, registered := r.agents[dep]; !registered {
					return fmt.Errorf("agent %s depends on unregistered agent %s", current, dep)
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		inStack[current] = false
		order = append(order, current)
		return nil
	}

	if err := visit(id); err != nil {
		return nil, err
	}
	return order, nil
}

// Clear unregisters every agent, attempting all cleanups and combining any
// failures into a single diagnostic.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	agents := make([]*agent.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.agents = make(map[string]*agent.Agent)
	r.byType = make(map[agent.Type][]string)
	r.mu.Unlock()

	var failures []string
	for _, a := range agents {
		if err := a.Cleanup(ctx); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", a.ID(), err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("failed to clean up %d agents: %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}
