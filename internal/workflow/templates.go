package workflow

import (
	"fmt"
	"time"

	"b2b-reconciliation-engine/internal/models"
)

// Template declares a pattern of discrepancies it can resolve and the
// actions it plans for them. Templates are matched per discrepancy; when
// several match, the lowest Priority number wins.
type Template struct {
	Name     string
	Priority int

	// AppliesTo limits the template to these discrepancy types. Empty means
	// any type.
	AppliesTo []models.DiscrepancyType

	// MinSeverity and MaxSeverity bound the severity range, inclusive. Empty
	// values leave that bound open.
	MinSeverity models.Severity
	MaxSeverity models.Severity

	Conditions []Condition

	// Plan produces the actions for a matched discrepancy.
	Plan func(d models.Discrepancy) []ResolutionAction
}

// Matches reports whether the template applies to the discrepancy.
func (t *Template) Matches(d models.Discrepancy) bool {
	if len(t.AppliesTo) > 0 {
		found := false
		for _, dt := range t.AppliesTo {
			if dt == d.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if t.MinSeverity != "" && d.Severity.Rank() < t.MinSeverity.Rank() {
		return false
	}
	if t.MaxSeverity != "" && d.Severity.Rank() > t.MaxSeverity.Rank() {
		return false
	}

	for _, c := range t.Conditions {
		if !c.Matches(d) {
			return false
		}
	}
	return true
}

// BuiltinTemplates returns the fixed template set, ordered by ascending
// priority. The slice is freshly allocated so callers may extend it.
func BuiltinTemplates() []Template {
	return []Template{
		{
			Name:        "minor_quantity_auto_adjust",
			Priority:    10,
			AppliesTo:   []models.DiscrepancyType{models.DiscrepancyQuantity},
			MaxSeverity: models.SeverityLow,
			Conditions:  []Condition{VarianceAtMost(2)},
			Plan: func(d models.Discrepancy) []ResolutionAction {
				return []ResolutionAction{
					newAction(ActionAutoAdjust,
						"accept delivered quantity and update inventory records",
						0.9, 5*time.Minute),
				}
			},
		},
		{
			Name:        "price_lower_auto_approve",
			Priority:    20,
			AppliesTo:   []models.DiscrepancyType{models.DiscrepancyPrice},
			MaxSeverity: models.SeverityMedium,
			Conditions:  []Condition{PriceMoved(PriceLower), VarianceAtMost(5)},
			Plan: func(d models.Discrepancy) []ResolutionAction {
				return []ResolutionAction{
					newAction(ActionAutoApprove,
						"approve at the lower delivered price",
						0.85, 5*time.Minute),
				}
			},
		},
		{
			Name:        "moderate_price_review",
			Priority:    30,
			AppliesTo:   []models.DiscrepancyType{models.DiscrepancyPrice},
			MinSeverity: models.SeverityMedium,
			MaxSeverity: models.SeverityHigh,
			Plan: func(d models.Discrepancy) []ResolutionAction {
				return []ResolutionAction{
					newAction(ActionManualReview,
						fmt.Sprintf("review price variance of %s%% with purchasing", d.VariancePct.Round(1).String()),
						0.6, 45*time.Minute, "purchasing_manager"),
				}
			},
		},
		{
			Name:        "critical_discrepancy_escalation",
			Priority:    40,
			MinSeverity: models.SeverityCritical,
			Plan: func(d models.Discrepancy) []ResolutionAction {
				return []ResolutionAction{
					newAction(ActionEscalate,
						"suspend payment and escalate to finance pending investigation",
						0.9, 30*time.Minute, "finance_manager"),
				}
			},
		},
		{
			Name:        "product_mismatch_dispute",
			Priority:    50,
			AppliesTo:   []models.DiscrepancyType{models.DiscrepancyProduct},
			MinSeverity: models.SeverityMedium,
			Plan: func(d models.Discrepancy) []ResolutionAction {
				return []ResolutionAction{
					newAction(ActionDispute,
						"open a supplier dispute over the substituted product",
						0.7, 90*time.Minute, "purchasing_manager"),
				}
			},
		},
		{
			Name:      "missing_item_review",
			Priority:  60,
			AppliesTo: []models.DiscrepancyType{models.DiscrepancyMissing},
			Plan: func(d models.Discrepancy) []ResolutionAction {
				return []ResolutionAction{
					newAction(ActionManualReview,
						"investigate the missing delivery or invoice record",
						0.65, 60*time.Minute, "purchasing_manager"),
				}
			},
		},
	}
}

// SelectTemplate finds the matching template with the lowest priority number
// for a discrepancy, or nil when none applies.
func SelectTemplate(templates []Template, d models.Discrepancy) *Template {
	var selected *Template
	for i := range templates {
		t := &templates[i]
		if !t.Matches(d) {
			continue
		}
		if selected == nil || t.Priority < selected.Priority {
			selected = t
		}
	}
	return selected
}

// defaultActions synthesizes a fallback action when no template matches a
// discrepancy.
func defaultActions(d models.Discrepancy) []ResolutionAction {
	switch {
	case d.Severity == models.SeverityCritical:
		return []ResolutionAction{
			newAction(ActionEscalate,
				fmt.Sprintf("immediate escalation for critical %s discrepancy", d.Type),
				0.9, 30*time.Minute, "finance_manager"),
		}
	case d.Severity == models.SeverityHigh:
		return []ResolutionAction{
			newAction(ActionManualReview,
				fmt.Sprintf("manual review of %s discrepancy: %s", d.Type, d.Description),
				0.6, 60*time.Minute, "purchasing_manager"),
		}
	case d.Severity == models.SeverityLow && d.AutoResolvable:
		return []ResolutionAction{
			newAction(ActionAutoAdjust,
				fmt.Sprintf("auto-adjust for minor %s variance", d.Type),
				0.85, 5*time.Minute),
		}
	default:
		return []ResolutionAction{
			newAction(ActionManualReview,
				fmt.Sprintf("review %s discrepancy: %s", d.Type, d.Description),
				0.5, 45*time.Minute),
		}
	}
}

// AppliedRule records which template (or the default fallback) planned the
// actions for one discrepancy, for the workflow audit trail.
type AppliedRule struct {
	DiscrepancyType models.DiscrepancyType `json:"discrepancy_type"`
	TemplateName    string                 `json:"template_name"`
}

// PlanActions walks the match result's discrepancies, applies the template
// set, deduplicates the collected actions by (type, description) keeping the
// highest confidence, and sorts them into execution order. It also returns
// the applied-rule trail in discrepancy order.
func PlanActions(templates []Template, mr *models.MatchResult) ([]ResolutionAction, []AppliedRule) {
	var actions []ResolutionAction
	var applied []AppliedRule

	for _, d := range mr.Discrepancies {
		if t := SelectTemplate(templates, d); t != nil {
			actions = append(actions, t.Plan(d)...)
			applied = append(applied, AppliedRule{DiscrepancyType: d.Type, TemplateName: t.Name})
			continue
		}
		actions = append(actions, defaultActions(d)...)
		applied = append(applied, AppliedRule{DiscrepancyType: d.Type, TemplateName: "default"})
	}

	actions = dedupeActions(actions)
	sortActions(actions)
	return actions, applied
}
