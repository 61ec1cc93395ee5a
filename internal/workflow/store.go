package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	// Postgres driver for the workflow store.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// TaskStore persists resolution workflows across process boundaries. The
// engine never owns durable storage; a caller wires the backend.
type TaskStore interface {
	Save(ctx context.Context, wf *ResolutionWorkflow) error
	Get(ctx context.Context, id string) (*ResolutionWorkflow, error)
	Update(ctx context.Context, wf *ResolutionWorkflow) error
	// ListPending returns non-terminal workflows, optionally filtered to
	// those with a pending approval assigned to the given role.
	ListPending(ctx context.Context, assignee string) ([]*ResolutionWorkflow, error)
}

// ErrWorkflowNotFound is returned by Get and Update for unknown ids.
var ErrWorkflowNotFound = errors.New("workflow not found")

// MemoryTaskStore is an in-process TaskStore for tests and single-shot CLI
// runs.
type MemoryTaskStore struct {
	mu        sync.RWMutex
	workflows map[string]*ResolutionWorkflow
}

// NewMemoryTaskStore creates an empty in-memory store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{workflows: make(map[string]*ResolutionWorkflow)}
}

// Save implements TaskStore.
func (ms *MemoryTaskStore) Save(ctx context.Context, wf *ResolutionWorkflow) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	ms.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// Get implements TaskStore.
func (ms *MemoryTaskStore) Get(ctx context.Context, id string) (*ResolutionWorkflow, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	wf, ok := ms.workflows[id]
	if !ok {
		return nil, errors.Wrap(ErrWorkflowNotFound, id)
	}
	return cloneWorkflow(wf), nil
}

// Update implements TaskStore.
func (ms *MemoryTaskStore) Update(ctx context.Context, wf *ResolutionWorkflow) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.workflows[wf.ID]; !ok {
		return errors.Wrap(ErrWorkflowNotFound, wf.ID)
	}
	ms.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// ListPending implements TaskStore.
func (ms *MemoryTaskStore) ListPending(ctx context.Context, assignee string) ([]*ResolutionWorkflow, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*ResolutionWorkflow
	for _, wf := range ms.workflows {
		if wf.Status.IsTerminal() {
			continue
		}
		if assignee != "" && !hasPendingAssignee(wf, assignee) {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	return out, nil
}

func hasPendingAssignee(wf *ResolutionWorkflow, assignee string) bool {
	for _, s := range wf.Steps {
		if s.Type == StepApproval && s.Status == StepPending && s.AssignedTo == assignee {
			return true
		}
	}
	return false
}

// cloneWorkflow deep-copies through JSON so callers never share step slices
// with the store.
func cloneWorkflow(wf *ResolutionWorkflow) *ResolutionWorkflow {
	raw, err := json.Marshal(wf)
	if err != nil {
		// Workflows only contain JSON-encodable fields.
		panic(err)
	}
	var out ResolutionWorkflow
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

// PostgresTaskStore persists workflows in a typed table plus a separate
// assignee index maintained on every write, so the pending-by-assignee
// dashboard query never scans workflow payloads.
type PostgresTaskStore struct {
	db *sqlx.DB
}

// workflowSchema is applied on startup. Step and action detail lives in a
// JSONB payload column; the queryable attributes are typed columns.
const workflowSchema = `
CREATE TABLE IF NOT EXISTS resolution_workflows (
	id                TEXT PRIMARY KEY,
	reconciliation_id TEXT NOT NULL,
	match_result_id   TEXT NOT NULL,
	status            TEXT NOT NULL,
	priority          TEXT NOT NULL,
	payload           JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_assignees (
	workflow_id TEXT NOT NULL REFERENCES resolution_workflows(id) ON DELETE CASCADE,
	assignee    TEXT NOT NULL,
	PRIMARY KEY (workflow_id, assignee)
);

CREATE INDEX IF NOT EXISTS idx_workflow_assignees_assignee ON workflow_assignees(assignee);
CREATE INDEX IF NOT EXISTS idx_resolution_workflows_status ON resolution_workflows(status);
`

type workflowRow struct {
	ID               string    `db:"id"`
	ReconciliationID string    `db:"reconciliation_id"`
	MatchResultID    string    `db:"match_result_id"`
	Status           string    `db:"status"`
	Priority         string    `db:"priority"`
	Payload          []byte    `db:"payload"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// NewPostgresTaskStore connects to Postgres and ensures the schema exists.
func NewPostgresTaskStore(dsn string) (*PostgresTaskStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to workflow store")
	}
	if _, err := db.Exec(workflowSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "applying workflow schema")
	}
	return &PostgresTaskStore{db: db}, nil
}

// NewPostgresTaskStoreFromDB wraps an existing connection, for callers that
// manage pooling themselves. The schema must already exist.
func NewPostgresTaskStoreFromDB(db *sqlx.DB) *PostgresTaskStore {
	return &PostgresTaskStore{db: db}
}

// Close releases the connection pool.
func (ps *PostgresTaskStore) Close() error {
	return ps.db.Close()
}

// Save implements TaskStore.
func (ps *PostgresTaskStore) Save(ctx context.Context, wf *ResolutionWorkflow) error {
	return ps.write(ctx, wf, `
		INSERT INTO resolution_workflows
			(id, reconciliation_id, match_result_id, status, priority, payload, created_at, updated_at)
		VALUES (:id, :reconciliation_id, :match_result_id, :status, :priority, :payload, :created_at, :updated_at)`)
}

// Update implements TaskStore.
func (ps *PostgresTaskStore) Update(ctx context.Context, wf *ResolutionWorkflow) error {
	return ps.write(ctx, wf, `
		UPDATE resolution_workflows SET
			status = :status, priority = :priority, payload = :payload, updated_at = :updated_at
		WHERE id = :id`)
}

func (ps *PostgresTaskStore) write(ctx context.Context, wf *ResolutionWorkflow, query string) error {
	payload, err := json.Marshal(wf)
	if err != nil {
		return errors.Wrap(err, "encoding workflow payload")
	}

	row := workflowRow{
		ID:               wf.ID,
		ReconciliationID: wf.ReconciliationID,
		MatchResultID:    wf.MatchResultID,
		Status:           string(wf.Status),
		Priority:         string(wf.Priority),
		Payload:          payload,
		CreatedAt:        wf.CreatedAt,
		UpdatedAt:        wf.UpdatedAt,
	}

	tx, err := ps.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning workflow transaction")
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, query, row)
	if err != nil {
		return errors.Wrapf(err, "writing workflow %s", wf.ID)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return errors.Wrap(ErrWorkflowNotFound, wf.ID)
	}

	// Rebuild the assignee index for this workflow.
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_assignees WHERE workflow_id = $1`, wf.ID); err != nil {
		return errors.Wrapf(err, "clearing assignee index for %s", wf.ID)
	}
	if !wf.Status.IsTerminal() {
		for _, s := range wf.PendingApprovals() {
			if s.AssignedTo == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workflow_assignees (workflow_id, assignee) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				wf.ID, s.AssignedTo); err != nil {
				return errors.Wrapf(err, "indexing assignee for %s", wf.ID)
			}
		}
	}

	return errors.Wrap(tx.Commit(), "committing workflow write")
}

// Get implements TaskStore.
func (ps *PostgresTaskStore) Get(ctx context.Context, id string) (*ResolutionWorkflow, error) {
	var row workflowRow
	err := ps.db.GetContext(ctx, &row, `SELECT * FROM resolution_workflows WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading workflow %s", id)
	}
	return decodeRow(&row)
}

// ListPending implements TaskStore.
func (ps *PostgresTaskStore) ListPending(ctx context.Context, assignee string) ([]*ResolutionWorkflow, error) {
	query := `
		SELECT w.* FROM resolution_workflows w
		WHERE w.status IN ('pending', 'in_progress')
		ORDER BY w.created_at`
	args := []interface{}{}

	if assignee != "" {
		query = `
			SELECT w.* FROM resolution_workflows w
			JOIN workflow_assignees a ON a.workflow_id = w.id
			WHERE w.status IN ('pending', 'in_progress') AND a.assignee = $1
			ORDER BY w.created_at`
		args = append(args, assignee)
	}

	var rows []workflowRow
	if err := ps.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "listing pending workflows")
	}

	out := make([]*ResolutionWorkflow, 0, len(rows))
	for i := range rows {
		wf, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func decodeRow(row *workflowRow) (*ResolutionWorkflow, error) {
	var wf ResolutionWorkflow
	if err := json.Unmarshal(row.Payload, &wf); err != nil {
		return nil, errors.Wrapf(err, "decoding workflow %s", row.ID)
	}
	return &wf, nil
}
