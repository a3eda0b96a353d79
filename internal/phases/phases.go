package phases

import (
	"fmt"
)

// The twelve-phase delivery lifecycle. All data in this package is immutable
// after load; components read it concurrently without synchronization.

// Count is the number of lifecycle phases.
const Count = 12

// Escalated is the pseudo-phase a run enters when a transition escalates.
const Escalated = -1

// Phase describes one lifecycle stage.
type Phase struct {
	// Number is the phase index, 0-11
	Number int `json:"number"`

	// Name is the phase title
	Name string `json:"name"`

	// Agents typically assigned to the phase
	Agents []string `json:"agents"`

	// UserApprovalRequired gates progression on a human decision
	UserApprovalRequired bool `json:"user_approval_required"`

	// EstimatedDurationMinutes is a planning hint
	EstimatedDurationMinutes int `json:"estimated_duration_minutes"`
}

var table = [Count]Phase{
	{0, "Project Discovery & Planning", []string{"planner", "coordinator", "qa"}, true, 45},
	{1, "Infrastructure Requirements", []string{"planner"}, true, 30},
	{2, "Architecture Assessment & Cost", []string{"cloud-architect", "diagram-generator"}, true, 60},
	{3, "Implementation Planning", []string{"plan-agent"}, true, 45},
	{4, "Infrastructure Code Generation", []string{"implementation-agent"}, true, 90},
	{5, "Deployment & Validation", []string{"deploy-coordinator"}, true, 60},
	{6, "Post-Deployment Validation", []string{"documentation-generator"}, false, 30},
	{7, "Handoff", []string{"coordinator"}, false, 20},
	{8, "Application Code Generation", []string{"coordinator", "cicd-agent", "frontend-agent"}, false, 120},
	{9, "Tracking", []string{"reporter"}, false, 30},
	{10, "Testing Framework", []string{"qa"}, false, 60},
	{11, "Documentation & Knowledge Transfer", []string{"documentation-generator"}, true, 45},
}

// criticalPhases always route their messages at CRITICAL priority.
var criticalPhases = map[int]bool{
	5: true, // deployment
}

// agentCapabilities tags agents with the capabilities phase messages may
// require.
var agentCapabilities = map[string][]string{
	"planner":                 {"planning", "requirements"},
	"coordinator":             {"orchestration", "handoff"},
	"qa":                      {"validation", "testing"},
	"cloud-architect":         {"architecture", "cost-estimation"},
	"diagram-generator":       {"diagrams"},
	"plan-agent":              {"planning"},
	"implementation-agent":    {"codegen", "bicep"},
	"deploy-coordinator":      {"deployment", "validation"},
	"documentation-generator": {"documentation"},
	"cicd-agent":              {"cicd", "codegen"},
	"frontend-agent":          {"codegen", "frontend"},
	"reporter":                {"reporting"},
}

// Get returns the phase with the given number.
func Get(number int) (Phase, error) {
	if number < 0 || number >= Count {
		return Phase{}, fmt.Errorf("phase %d does not exist", number)
	}
	return table[number], nil
}

// All returns every phase in order.
func All() []Phase {
	phases := make([]Phase, Count)
	copy(phases, table[:])
	return phases
}

// IsValid reports whether number names a real phase.
func IsValid(number int) bool {
	return number >= 0 && number < Count
}

// RequiresApproval reports whether the phase gates on a human decision.
func RequiresApproval(number int) bool {
	if !IsValid(number) {
		return false
	}
	return table[number].UserApprovalRequired
}

// IsCritical reports whether the phase's messages always route at CRITICAL
// priority.
func IsCritical(number int) bool {
	return criticalPhases[number]
}

// AgentsFor returns the agents assigned to a phase, optionally filtered by a
// required capability tag.
func AgentsFor(number int, requiredCapability string) []string {
	if !IsValid(number) {
		return nil
	}

	assigned := table[number].Agents
	if requiredCapability == "" {
		result := make([]string, len(assigned))
		copy(result, assigned)
		return result
	}

	var matched []string
	for _, agentID := range assigned {
		for _, capability := range agentCapabilities[agentID] {
			if capability == requiredCapability {
				matched = append(matched, agentID)
				break
			}
		}
	}
	return matched
}

// Capabilities returns the capability tags of an agent.
func Capabilities(agentID string) []string {
	caps := agentCapabilities[agentID]
	result := make([]string, len(caps))
	copy(result, caps)
	return result
}
