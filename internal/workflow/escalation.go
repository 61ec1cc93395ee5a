package workflow

import (
	"context"
	"fmt"
	"time"

	"b2b-reconciliation-engine/internal/models"

	"github.com/shopspring/decimal"
)

// EscalationConfig holds the thresholds for the fixed escalation rule set.
type EscalationConfig struct {
	// TimeLimit is how long a workflow may stay unresolved before the
	// time-exceeded rule fires.
	TimeLimit time.Duration `json:"time_limit"`
	// ValueLimit is the monetary discrepancy above which the high-value rule
	// fires.
	ValueLimit decimal.Decimal `json:"value_limit"`
}

// DefaultEscalationConfig returns the standard thresholds: 120 minutes and
// a 10,000 discrepancy value.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		TimeLimit:  120 * time.Minute,
		ValueLimit: decimal.NewFromInt(10000),
	}
}

// Escalation is one triggered rule, addressed to the role that should take
// over.
type Escalation struct {
	Rule   string `json:"rule"`
	Role   string `json:"role"`
	Reason string `json:"reason"`
}

// EvaluateEscalations checks the fixed rule set against a workflow's age,
// its computed monetary discrepancy, and the buyer's VIP flag. All triggered
// rules are returned together so the caller can fan out notifications.
func EvaluateEscalations(cfg EscalationConfig, wf *ResolutionWorkflow, mr *models.MatchResult, vip bool, now time.Time) []Escalation {
	var out []Escalation

	if age := now.Sub(wf.CreatedAt); age > cfg.TimeLimit {
		out = append(out, Escalation{
			Rule:   "time_exceeded",
			Role:   "operations_manager",
			Reason: fmt.Sprintf("workflow unresolved for %s, limit is %s", age.Round(time.Minute), cfg.TimeLimit),
		})
	}

	// The trigger uses the computed monetary discrepancy, not the raw line
	// value, so a large order with a tiny variance does not escalate.
	if value := mr.TotalDiscrepancyValue(); value.GreaterThan(cfg.ValueLimit) {
		out = append(out, Escalation{
			Rule:   "high_value",
			Role:   "finance_manager",
			Reason: fmt.Sprintf("discrepancy value %s exceeds %s", value.StringFixed(2), cfg.ValueLimit.StringFixed(2)),
		})
	}

	if vip {
		out = append(out, Escalation{
			Rule:   "vip_customer",
			Role:   "account_manager",
			Reason: "buyer is tagged VIP",
		})
	}

	return out
}

// Escalate marks the workflow escalated and persists it. Already-terminal
// workflows are left untouched.
func (e *Engine) Escalate(ctx context.Context, wf *ResolutionWorkflow) error {
	if wf.Status.IsTerminal() {
		return nil
	}
	wf.Status = StatusEscalated
	wf.UpdatedAt = e.now()
	return e.store.Update(ctx, wf)
}
