package workflow

import (
	"context"
	"fmt"
	"time"

	"b2b-reconciliation-engine/internal/models"
	"b2b-reconciliation-engine/internal/notify"
	"b2b-reconciliation-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WorkflowStatus is the lifecycle state of a resolution workflow.
type WorkflowStatus string

const (
	StatusPending    WorkflowStatus = "pending"
	StatusInProgress WorkflowStatus = "in_progress"
	StatusResolved   WorkflowStatus = "resolved"
	StatusEscalated  WorkflowStatus = "escalated"
	StatusCancelled  WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the workflow can no longer change state.
func (ws WorkflowStatus) IsTerminal() bool {
	return ws == StatusResolved || ws == StatusEscalated || ws == StatusCancelled
}

// Priority orders workflows in operator queues.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// StepType classifies a workflow step.
type StepType string

const (
	StepValidation   StepType = "validation"
	StepAnalysis     StepType = "analysis"
	StepAction       StepType = "action"
	StepApproval     StepType = "approval"
	StepNotification StepType = "notification"
)

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// WorkflowStep is one unit of work within a resolution workflow. Steps run
// strictly in order; approval steps stay pending until an external actor
// supplies the outcome.
type WorkflowStep struct {
	StepID     string     `json:"step_id"`
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	AssignedTo string     `json:"assigned_to,omitempty"`
	// ActionID links action and approval steps back to the planned action.
	ActionID    string                 `json:"action_id,omitempty"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
}

// ResolutionWorkflow is the stateful resolution record for one match result.
// Created once, mutated as steps execute, terminal once resolved, escalated
// or cancelled.
type ResolutionWorkflow struct {
	ID               string             `json:"id"`
	ReconciliationID string             `json:"reconciliation_id"`
	MatchResultID    string             `json:"match_result_id"`
	Status           WorkflowStatus     `json:"status"`
	Priority         Priority           `json:"priority"`
	Steps            []WorkflowStep     `json:"steps"`
	Actions          []ResolutionAction `json:"actions"`
	AppliedRules     []AppliedRule      `json:"applied_rules"`
	// EstimatedResolution is the summed estimated time of all planned actions.
	EstimatedResolution time.Duration `json:"estimated_resolution"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// ActionByID returns the planned action a step refers to.
func (wf *ResolutionWorkflow) ActionByID(id string) *ResolutionAction {
	for i := range wf.Actions {
		if wf.Actions[i].ID == id {
			return &wf.Actions[i]
		}
	}
	return nil
}

// PendingApprovals returns the approval steps still awaiting an external
// decision.
func (wf *ResolutionWorkflow) PendingApprovals() []WorkflowStep {
	var out []WorkflowStep
	for _, s := range wf.Steps {
		if s.Type == StepApproval && s.Status == StepPending {
			out = append(out, s)
		}
	}
	return out
}

// highValueThreshold flags order lines whose value warrants elevated
// priority and finance attention.
var highValueThreshold = decimal.NewFromInt(10000)

// derivePriority combines the discrepancies' max severity with the
// high-value-order flag. Computed once at creation.
func derivePriority(mr *models.MatchResult) Priority {
	severity := mr.MaxSeverity()
	highValue := mr.OrderItem != nil &&
		mr.OrderItem.EffectiveLineTotal().GreaterThan(highValueThreshold)

	switch {
	case severity == models.SeverityCritical,
		severity == models.SeverityHigh && highValue:
		return PriorityUrgent
	case severity == models.SeverityHigh, highValue:
		return PriorityHigh
	case severity == models.SeverityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Engine plans, persists and executes resolution workflows.
type Engine struct {
	templates []Template
	store     TaskStore
	notifier  notify.Notifier
	retry     notify.RetryConfig
	logger    logger.Logger
	now       func() time.Time
}

// NewEngine creates a workflow engine with the built-in template set. A nil
// store falls back to in-memory persistence; a nil notifier logs events.
func NewEngine(store TaskStore, notifier notify.Notifier) *Engine {
	if store == nil {
		store = NewMemoryTaskStore()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}

	return &Engine{
		templates: BuiltinTemplates(),
		store:     store,
		notifier:  notifier,
		retry:     notify.DefaultRetryConfig(),
		logger:    logger.GetGlobalLogger().WithComponent("workflow"),
		now:       time.Now,
	}
}

// SetTemplates replaces the template set.
func (e *Engine) SetTemplates(templates []Template) {
	e.templates = templates
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// CreateWorkflow plans the action list for a match result, materializes the
// step sequence and persists the new workflow.
func (e *Engine) CreateWorkflow(ctx context.Context, reconciliationID string, mr *models.MatchResult) (*ResolutionWorkflow, error) {
	actions, applied := PlanActions(e.templates, mr)

	now := e.now()
	wf := &ResolutionWorkflow{
		ID:               uuid.New().String(),
		ReconciliationID: reconciliationID,
		MatchResultID:    matchResultID(mr),
		Status:           StatusPending,
		Priority:         derivePriority(mr),
		Actions:          actions,
		AppliedRules:     applied,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for _, a := range actions {
		wf.EstimatedResolution += a.EstimatedTime
	}

	wf.Steps = buildSteps(actions)

	if err := e.store.Save(ctx, wf); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"workflow_id": wf.ID,
		"priority":    wf.Priority,
		"actions":     len(actions),
	}).Info("resolution workflow created")

	return wf, nil
}

func matchResultID(mr *models.MatchResult) string {
	if mr.OrderItem != nil {
		return mr.OrderItem.OrderID + ":" + mr.OrderItem.ProductCode
	}
	return uuid.New().String()
}

// buildSteps produces the fixed step skeleton: validation, analysis, one
// action or approval step per planned action, then notification.
func buildSteps(actions []ResolutionAction) []WorkflowStep {
	steps := []WorkflowStep{
		{StepID: uuid.New().String(), Type: StepValidation, Status: StepPending},
		{StepID: uuid.New().String(), Type: StepAnalysis, Status: StepPending},
	}

	for _, a := range actions {
		step := WorkflowStep{
			StepID:   uuid.New().String(),
			Status:   StepPending,
			ActionID: a.ID,
		}
		if a.Type.IsAutomatable() {
			step.Type = StepAction
		} else {
			step.Type = StepApproval
			step.AssignedTo = firstApprover(a)
		}
		steps = append(steps, step)
	}

	steps = append(steps, WorkflowStep{StepID: uuid.New().String(), Type: StepNotification, Status: StepPending})
	return steps
}

func firstApprover(a ResolutionAction) string {
	if len(a.RequiredApproval) > 0 {
		return a.RequiredApproval[0]
	}
	return "purchasing_manager"
}

// Execute runs the workflow's steps in order until all complete, a step
// fails, or an approval step is reached. Approval steps are left pending for
// an external decision; a failed step halts forward progress and leaves the
// remainder pending for operator intervention. The updated workflow is
// persisted before returning.
func (e *Engine) Execute(ctx context.Context, wf *ResolutionWorkflow, mr *models.MatchResult) error {
	if wf.Status.IsTerminal() {
		return nil
	}
	wf.Status = StatusInProgress

	blocked := false
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.Status == StepCompleted || step.Status == StepSkipped {
			continue
		}

		if step.Type == StepApproval {
			// Started but left pending: only an external actor completes it.
			if step.StartedAt == nil {
				started := e.now()
				step.StartedAt = &started
			}
			blocked = true
			break
		}

		e.startStep(step)
		if err := e.runStep(ctx, wf, step, mr); err != nil {
			e.failStep(step, err)
			blocked = true
			break
		}
		e.completeStep(step)
	}

	if !blocked && wf.allStepsDone() {
		wf.Status = StatusResolved
	}
	wf.UpdatedAt = e.now()

	return e.store.Update(ctx, wf)
}

// CompleteApproval records an external approval decision on a pending
// approval step. A rejection escalates the workflow; after an approval the
// caller resumes the remaining steps with Execute.
func (e *Engine) CompleteApproval(ctx context.Context, wf *ResolutionWorkflow, stepID string, approved bool, notes string) error {
	var step *WorkflowStep
	for i := range wf.Steps {
		if wf.Steps[i].StepID == stepID {
			step = &wf.Steps[i]
			break
		}
	}
	if step == nil {
		return fmt.Errorf("workflow %s has no step %s", wf.ID, stepID)
	}
	if step.Type != StepApproval {
		return fmt.Errorf("step %s is %s, not approval", stepID, step.Type)
	}
	if step.Status != StepPending {
		return fmt.Errorf("approval step %s already %s", stepID, step.Status)
	}

	completed := e.now()
	step.CompletedAt = &completed
	step.Notes = notes
	if approved {
		step.Status = StepCompleted
	} else {
		step.Status = StepFailed
	}

	if !approved {
		wf.Status = StatusEscalated
	}
	wf.UpdatedAt = e.now()
	return e.store.Update(ctx, wf)
}

func (e *Engine) startStep(step *WorkflowStep) {
	started := e.now()
	step.StartedAt = &started
	step.Status = StepInProgress
}

func (e *Engine) completeStep(step *WorkflowStep) {
	completed := e.now()
	step.CompletedAt = &completed
	step.Status = StepCompleted
}

func (e *Engine) failStep(step *WorkflowStep, err error) {
	completed := e.now()
	step.CompletedAt = &completed
	step.Status = StepFailed
	step.Notes = err.Error()

	e.logger.WithError(err).WithFields(map[string]interface{}{
		"step_id":   step.StepID,
		"step_type": step.Type,
	}).Warn("workflow step failed")
}

func (e *Engine) runStep(ctx context.Context, wf *ResolutionWorkflow, step *WorkflowStep, mr *models.MatchResult) error {
	switch step.Type {
	case StepValidation:
		return e.runValidation(step, mr)
	case StepAnalysis:
		return e.runAnalysis(step, wf, mr)
	case StepAction:
		return e.runAction(step, wf, mr)
	case StepNotification:
		return e.runNotification(ctx, step, wf)
	default:
		return fmt.Errorf("unknown step type %s", step.Type)
	}
}

// runValidation checks the match result in hand is complete enough to act
// on. No network or storage work happens here.
func (e *Engine) runValidation(step *WorkflowStep, mr *models.MatchResult) error {
	if mr == nil || mr.OrderItem == nil {
		return fmt.Errorf("match result has no order line item")
	}
	if err := mr.OrderItem.Validate(); err != nil {
		return err
	}

	step.Output = map[string]interface{}{
		"has_delivery":  mr.DeliveryItem != nil,
		"has_invoice":   mr.InvoiceItem != nil,
		"discrepancies": len(mr.Discrepancies),
	}
	return nil
}

// runAnalysis derives a risk label and the recommended-action list.
func (e *Engine) runAnalysis(step *WorkflowStep, wf *ResolutionWorkflow, mr *models.MatchResult) error {
	risk := "low"
	switch mr.MaxSeverity() {
	case models.SeverityCritical:
		risk = "critical"
	case models.SeverityHigh:
		risk = "high"
	case models.SeverityMedium:
		risk = "moderate"
	}

	recommended := make([]string, 0, len(wf.Actions))
	for _, a := range wf.Actions {
		recommended = append(recommended, a.Description)
	}

	step.Output = map[string]interface{}{
		"risk_level":          risk,
		"recommended_actions": recommended,
		"discrepancy_value":   mr.TotalDiscrepancyValue().String(),
	}
	return nil
}

// runAction applies an automatable action's effect and records the result.
func (e *Engine) runAction(step *WorkflowStep, wf *ResolutionWorkflow, mr *models.MatchResult) error {
	action := wf.ActionByID(step.ActionID)
	if action == nil {
		return fmt.Errorf("step %s references unknown action %s", step.StepID, step.ActionID)
	}

	output := map[string]interface{}{
		"action_type": string(action.Type),
		"description": action.Description,
	}

	switch action.Type {
	case ActionAutoAdjust:
		if mr.DeliveryItem != nil {
			output["accepted_quantity"] = mr.DeliveryItem.Quantity.String()
		}
	case ActionAutoApprove:
		if mr.DeliveryItem != nil {
			output["approved_price"] = mr.DeliveryItem.EffectivePrice().String()
		}
	default:
		return fmt.Errorf("action type %s is not automatable", action.Type)
	}

	step.Output = output
	return nil
}

// runNotification dispatches the workflow summary to the notification
// collaborator with bounded retries.
func (e *Engine) runNotification(ctx context.Context, step *WorkflowStep, wf *ResolutionWorkflow) error {
	event := notify.Event{
		WorkflowID: wf.ID,
		Kind:       "workflow_update",
		Message:    fmt.Sprintf("resolution workflow %s (%s priority) processed with %d planned actions", wf.ID, wf.Priority, len(wf.Actions)),
		Roles:      wf.notifyRoles(),
		OccurredAt: e.now(),
	}

	if err := notify.NotifyWithRetry(ctx, e.notifier, event, e.retry); err != nil {
		return err
	}

	step.Output = map[string]interface{}{"notified_roles": event.Roles}
	return nil
}

// notifyRoles collects the distinct approval roles across planned actions,
// falling back to operations when no approvals are required.
func (wf *ResolutionWorkflow) notifyRoles() []string {
	seen := map[string]bool{}
	var roles []string
	for _, a := range wf.Actions {
		for _, r := range a.RequiredApproval {
			if !seen[r] {
				seen[r] = true
				roles = append(roles, r)
			}
		}
	}
	if len(roles) == 0 {
		roles = []string{"operations"}
	}
	return roles
}

func (wf *ResolutionWorkflow) allStepsDone() bool {
	for _, s := range wf.Steps {
		if s.Status != StepCompleted && s.Status != StepSkipped {
			return false
		}
	}
	return true
}
