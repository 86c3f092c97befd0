package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oncallops/atp-gateway/internal/domain"
)

// SQLite is the durable Store implementation. WAL mode makes every commit
// durable before the call returns; there is no separate in-memory index to
// rebuild on restart.
type SQLite struct {
	db    *sql.DB
	locks *keyedMutex
}

var _ Store = (*SQLite)(nil)

// Open opens (or creates) the SQLite database at dsn and initializes the
// schema. In-memory DSNs (file:x?mode=memory&cache=shared) work for tests.
func Open(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	s := &SQLite{db: db, locks: newKeyedMutex()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_assessments (
			action_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_decisions (
			action_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_results (
			action_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS verification_results (
			action_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			action_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			event TEXT NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (action_id, seq),
			UNIQUE (action_id, event)
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			action_id TEXT PRIMARY KEY,
			target_system TEXT NOT NULL,
			target_operation TEXT NOT NULL,
			namespace TEXT NOT NULL,
			verified INTEGER NOT NULL,
			completion_ms INTEGER NOT NULL,
			data TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_history_similarity ON history(target_system, target_operation, namespace)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// Lock acquires the per-action mutex.
func (s *SQLite) Lock(actionID string) func() { return s.locks.Lock(actionID) }

// auditExists reports whether the (action_id, event) audit entry is
// already present, inside the given transaction.
func auditExists(ctx context.Context, tx *sql.Tx, actionID, event string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM audit_log WHERE action_id = ? AND event = ?`, actionID, event).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// appendAuditTx appends one audit event with the next sequence number.
func appendAuditTx(ctx context.Context, tx *sql.Tx, actionID, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal audit data: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_log (action_id, seq, timestamp, event, data)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log WHERE action_id = ?), ?, ?, ?)`,
		actionID, actionID, time.Now().UTC(), event, string(payload))
	return err
}

// putRecord runs the shared upsert-plus-audit transaction. When the audit
// event for this transition already exists the whole call is a no-op,
// which is what makes transition retries safe.
func (s *SQLite) putRecord(ctx context.Context, table, actionID, event string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return domain.ErrPersistence("failed to marshal record", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrPersistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	done, err := auditExists(ctx, tx, actionID, event)
	if err != nil {
		return domain.ErrPersistence("failed to check audit log", err)
	}
	if done {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (action_id, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(action_id) DO UPDATE SET data = excluded.data`, table)
	if _, err := tx.ExecContext(ctx, query, actionID, string(data), time.Now().UTC()); err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to write %s", table), err)
	}

	if err := appendAuditTx(ctx, tx, actionID, event, record); err != nil {
		return domain.ErrPersistence("failed to append audit event", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ErrPersistence("failed to commit", err)
	}
	return nil
}

func (s *SQLite) getRecord(ctx context.Context, table, actionID string, out any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE action_id = ?`, table), actionID).Scan(&data)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound("no %s record for action %s", table, actionID)
	}
	if err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to read %s", table), err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return domain.ErrPersistence(fmt.Sprintf("failed to unmarshal %s", table), err)
	}
	return nil
}

// PutAction persists a declared action together with its
// action_declared audit event. Re-declaring an existing action is a no-op.
func (s *SQLite) PutAction(ctx context.Context, action *domain.Action) error {
	data, err := json.Marshal(action)
	if err != nil {
		return domain.ErrPersistence("failed to marshal action", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrPersistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	done, err := auditExists(ctx, tx, action.ID, domain.EventActionDeclared)
	if err != nil {
		return domain.ErrPersistence("failed to check audit log", err)
	}
	if done {
		return nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO actions (id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		action.ID, string(action.Status), string(data), now, now); err != nil {
		return domain.ErrPersistence("failed to write action", err)
	}

	if err := appendAuditTx(ctx, tx, action.ID, domain.EventActionDeclared, action); err != nil {
		return domain.ErrPersistence("failed to append audit event", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ErrPersistence("failed to commit", err)
	}
	return nil
}

// GetAction returns the action with its current status.
func (s *SQLite) GetAction(ctx context.Context, actionID string) (*domain.Action, error) {
	var data, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, status FROM actions WHERE id = ?`, actionID).Scan(&data, &status)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound("action %s not found", actionID)
	}
	if err != nil {
		return nil, domain.ErrPersistence("failed to read action", err)
	}

	var action domain.Action
	if err := json.Unmarshal([]byte(data), &action); err != nil {
		return nil, domain.ErrPersistence("failed to unmarshal action", err)
	}
	// The status column is authoritative; the JSON blob holds the status
	// at declaration time.
	action.Status = domain.ActionStatus(status)
	return &action, nil
}

// ListActions returns every known action, oldest first.
func (s *SQLite) ListActions(ctx context.Context) ([]domain.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data, status FROM actions ORDER BY created_at, id`)
	if err != nil {
		return nil, domain.ErrPersistence("failed to list actions", err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		var data, status string
		if err := rows.Scan(&data, &status); err != nil {
			return nil, domain.ErrPersistence("failed to scan action", err)
		}
		var action domain.Action
		if err := json.Unmarshal([]byte(data), &action); err != nil {
			return nil, domain.ErrPersistence("failed to unmarshal action", err)
		}
		action.Status = domain.ActionStatus(status)
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrPersistence("failed to iterate actions", err)
	}
	return actions, nil
}

// UpdateStatus advances the status column with a compare-and-swap against
// the allowed source statuses.
func (s *SQLite) UpdateStatus(ctx context.Context, actionID string, to domain.ActionStatus, from ...domain.ActionStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM actions WHERE id = ?`, actionID).Scan(&current)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound("action %s not found", actionID)
	}
	if err != nil {
		return domain.ErrPersistence("failed to read status", err)
	}

	allowed := false
	for _, f := range from {
		if domain.ActionStatus(current) == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ErrConflict("action %s is %s, cannot move to %s", actionID, current, to)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), actionID, current)
	if err != nil {
		return domain.ErrPersistence("failed to update status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict("action %s changed state concurrently", actionID)
	}
	return nil
}

func (s *SQLite) PutRiskAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	return s.putRecord(ctx, "risk_assessments", a.ActionID, domain.EventRiskAssessed, a)
}

func (s *SQLite) GetRiskAssessment(ctx context.Context, actionID string) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	if err := s.getRecord(ctx, "risk_assessments", actionID, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLite) PutApprovalDecision(ctx context.Context, d *domain.ApprovalDecision) error {
	return s.putRecord(ctx, "approval_decisions", d.ActionID, domain.EventApprovalReceived, d)
}

func (s *SQLite) GetApprovalDecision(ctx context.Context, actionID string) (*domain.ApprovalDecision, error) {
	var d domain.ApprovalDecision
	if err := s.getRecord(ctx, "approval_decisions", actionID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLite) PutExecutionResult(ctx context.Context, r *domain.ExecutionResult) error {
	return s.putRecord(ctx, "execution_results", r.ActionID, domain.EventExecutionCompleted, r)
}

func (s *SQLite) GetExecutionResult(ctx context.Context, actionID string) (*domain.ExecutionResult, error) {
	var r domain.ExecutionResult
	if err := s.getRecord(ctx, "execution_results", actionID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLite) PutVerificationResult(ctx context.Context, v *domain.VerificationResult) error {
	return s.putRecord(ctx, "verification_results", v.ActionID, domain.EventVerificationCompleted, v)
}

func (s *SQLite) GetVerificationResult(ctx context.Context, actionID string) (*domain.VerificationResult, error) {
	var v domain.VerificationResult
	if err := s.getRecord(ctx, "verification_results", actionID, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AppendAudit appends a record-less audit event, deduplicated by
// (action id, event).
func (s *SQLite) AppendAudit(ctx context.Context, actionID, event string, data any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrPersistence("failed to begin transaction", err)
	}
	defer tx.Rollback()

	done, err := auditExists(ctx, tx, actionID, event)
	if err != nil {
		return domain.ErrPersistence("failed to check audit log", err)
	}
	if done {
		return nil
	}

	if err := appendAuditTx(ctx, tx, actionID, event, data); err != nil {
		return domain.ErrPersistence("failed to append audit event", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrPersistence("failed to commit", err)
	}
	return nil
}

// AuditTrail returns the ordered audit events for an action.
func (s *SQLite) AuditTrail(ctx context.Context, actionID string) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, seq, timestamp, event, data FROM audit_log WHERE action_id = ? ORDER BY seq`,
		actionID)
	if err != nil {
		return nil, domain.ErrPersistence("failed to read audit log", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var data string
		if err := rows.Scan(&e.ActionID, &e.Seq, &e.Timestamp, &e.Event, &data); err != nil {
			return nil, domain.ErrPersistence("failed to scan audit event", err)
		}
		e.Data = json.RawMessage(data)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrPersistence("failed to iterate audit log", err)
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound("no audit trail for action %s", actionID)
	}
	return events, nil
}

// AppendHistory writes the denormalized join for a completed action, at
// most once. Missing prerequisites fail loudly instead of being
// substituted with empty placeholders.
func (s *SQLite) AppendHistory(ctx context.Context, actionID string) error {
	action, err := s.GetAction(ctx, actionID)
	if err != nil {
		return err
	}
	risk, err := s.GetRiskAssessment(ctx, actionID)
	if domain.IsType(err, domain.ErrorTypeNotFound) {
		return domain.ErrMissingDependency("history for %s requires a risk assessment", actionID)
	}
	if err != nil {
		return err
	}
	exec, err := s.GetExecutionResult(ctx, actionID)
	if domain.IsType(err, domain.ErrorTypeNotFound) {
		return domain.ErrMissingDependency("history for %s requires an execution result", actionID)
	}
	if err != nil {
		return err
	}
	verification, err := s.GetVerificationResult(ctx, actionID)
	if domain.IsType(err, domain.ErrorTypeNotFound) {
		return domain.ErrMissingDependency("history for %s requires a verification result", actionID)
	}
	if err != nil {
		return err
	}

	entry := domain.HistoryEntry{
		Action:       *action,
		Risk:         *risk,
		Execution:    *exec,
		Verification: *verification,
		RecordedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return domain.ErrPersistence("failed to marshal history entry", err)
	}

	verified := 0
	if verification.OverallStatus == domain.VerificationVerified {
		verified = 1
	}
	completion := exec.CompletedAt.Sub(exec.StartedAt)
	if completion < 0 {
		completion = 0
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history (action_id, target_system, target_operation, namespace, verified, completion_ms, data, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(action_id) DO NOTHING`,
		actionID, action.Target.System, action.Target.Operation,
		action.ContextString(domain.ContextKeyNamespace),
		verified, completion.Milliseconds(), string(data), entry.RecordedAt)
	if err != nil {
		return domain.ErrPersistence("failed to write history entry", err)
	}
	return nil
}

// FindSimilar aggregates outcomes over history entries with the exact
// same target system, operation, and namespace.
func (s *SQLite) FindSimilar(ctx context.Context, system, operation, namespace string) (domain.SimilaritySummary, error) {
	var count, verified int
	var avgMs sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(verified), 0), AVG(completion_ms)
		 FROM history WHERE target_system = ? AND target_operation = ? AND namespace = ?`,
		system, operation, namespace).Scan(&count, &verified, &avgMs)
	if err != nil {
		return domain.SimilaritySummary{}, domain.ErrPersistence("failed to query history", err)
	}

	if count == 0 {
		return domain.SimilaritySummary{Count: 0, SuccessRate: 0, AvgCompletionTime: "N/A"}, nil
	}

	avg := time.Duration(avgMs.Float64) * time.Millisecond
	return domain.SimilaritySummary{
		Count:             count,
		SuccessRate:       float64(verified) / float64(count),
		AvgCompletionTime: avg.Round(100 * time.Millisecond).String(),
	}, nil
}
