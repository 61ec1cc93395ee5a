package workflow

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ActionType classifies a resolution action by how it is carried out.
type ActionType string

const (
	ActionAutoApprove  ActionType = "auto_approve"
	ActionAutoAdjust   ActionType = "auto_adjust"
	ActionEscalate     ActionType = "escalate"
	ActionDispute      ActionType = "dispute"
	ActionManualReview ActionType = "manual_review"
)

// urgencyRank orders action types most-urgent first for plan sorting.
func (at ActionType) urgencyRank() int {
	switch at {
	case ActionEscalate:
		return 0
	case ActionDispute:
		return 1
	case ActionManualReview:
		return 2
	case ActionAutoAdjust:
		return 3
	case ActionAutoApprove:
		return 4
	default:
		return 5
	}
}

// IsAutomatable reports whether the engine can execute the action without a
// human in the loop.
func (at ActionType) IsAutomatable() bool {
	return at == ActionAutoApprove || at == ActionAutoAdjust
}

// ResolutionAction is one planned step toward resolving a discrepancy.
// Immutable once generated for a given discrepancy set.
type ResolutionAction struct {
	ID          string            `json:"id"`
	Type        ActionType        `json:"type"`
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	// Confidence expresses how certain the planner is that this action
	// resolves the discrepancy correctly.
	Confidence float64 `json:"confidence"`
	// EstimatedTime is the expected human or system effort to complete.
	EstimatedTime time.Duration `json:"estimated_time"`
	// RequiredApproval lists the roles that must sign off, in order.
	RequiredApproval []string `json:"required_approval,omitempty"`
}

func newAction(t ActionType, description string, confidence float64, estimated time.Duration, approval ...string) ResolutionAction {
	return ResolutionAction{
		ID:               uuid.New().String(),
		Type:             t,
		Description:      description,
		Confidence:       confidence,
		EstimatedTime:    estimated,
		RequiredApproval: approval,
	}
}

// confidenceTieBand treats confidence values within this distance as equal
// when ordering actions, so estimated time decides between near-peers.
const confidenceTieBand = 0.1

// dedupeActions removes duplicate (type, description) pairs, keeping the
// highest-confidence occurrence.
func dedupeActions(actions []ResolutionAction) []ResolutionAction {
	type actionKey struct {
		t           ActionType
		description string
	}

	best := make(map[actionKey]int, len(actions))
	var out []ResolutionAction
	for _, a := range actions {
		key := actionKey{a.Type, a.Description}
		if idx, ok := best[key]; ok {
			if a.Confidence > out[idx].Confidence {
				out[idx] = a
			}
			continue
		}
		best[key] = len(out)
		out = append(out, a)
	}
	return out
}

// sortActions orders the plan by urgency rank, then confidence descending
// (values within the tie band compare equal), then estimated time ascending.
func sortActions(actions []ResolutionAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if ra, rb := a.Type.urgencyRank(), b.Type.urgencyRank(); ra != rb {
			return ra < rb
		}
		diff := a.Confidence - b.Confidence
		if diff > confidenceTieBand {
			return true
		}
		if diff < -confidenceTieBand {
			return false
		}
		return a.EstimatedTime < b.EstimatedTime
	})
}
