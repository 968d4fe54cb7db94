package timeline

import (
	"fmt"
	"time"

	"github.com/paychat-app/paychat/internal/bus"
)

// EnqueueOperation stores a durable mutation awaiting network. Any older
// not-yet-terminal operation with the same kind and target is superseded
// so it can never double-submit after reconnect.
func (s *Store) EnqueueOperation(op *QueuedOperation) error {
	if op.ID == "" || op.ProfileID == "" || op.OperationKind == "" || op.Endpoint == "" {
		return &ValidationError{Field: "queued operation", Reason: "id, profile, kind and endpoint required"}
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().UnixMilli()
	}
	if op.Status == "" {
		op.Status = OpPending
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE queued_operations SET status = ?
		WHERE profile_id = ? AND operation_kind = ? AND target_entity_id = ?
			AND status IN (?, ?)`,
		OpSuperseded,
		op.ProfileID, op.OperationKind, op.TargetEntityID,
		OpPending, OpRetrying); err != nil {
		return fmt.Errorf("supersede older ops: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO queued_operations (id, profile_id, operation_kind, payload, target_entity_id,
			endpoint, status, retry_count, last_retry_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, '', ?)`,
		op.ID, op.ProfileID, op.OperationKind, op.Payload, op.TargetEntityID,
		op.Endpoint, op.Status, op.CreatedAt); err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	return tx.Commit()
}

const queueColumns = `id, profile_id, operation_kind, payload, target_entity_id,
	endpoint, status, retry_count, last_retry_at, last_error, created_at`

// PendingOperations returns pending and retrying operations in FIFO order.
func (s *Store) PendingOperations(profileID string) ([]QueuedOperation, error) {
	return s.queryOperations(`SELECT `+queueColumns+` FROM queued_operations
		WHERE profile_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC`, profileID, OpPending, OpRetrying)
}

// FailedOperations returns operations that exhausted their retries.
// These are surfaced to the user, never silently dropped.
func (s *Store) FailedOperations(profileID string) ([]QueuedOperation, error) {
	return s.queryOperations(`SELECT `+queueColumns+` FROM queued_operations
		WHERE profile_id = ? AND status = ?
		ORDER BY created_at ASC`, profileID, OpFailed)
}

func (s *Store) queryOperations(query string, args ...any) ([]QueuedOperation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ops []QueuedOperation
	for rows.Next() {
		var op QueuedOperation
		if err := rows.Scan(&op.ID, &op.ProfileID, &op.OperationKind, &op.Payload, &op.TargetEntityID,
			&op.Endpoint, &op.Status, &op.RetryCount, &op.LastRetryAt, &op.LastError, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkOperationRetrying bumps the retry counter after a transient
// failure. Once the bound is reached the operation transitions to failed
// instead, and a failure event is published.
func (s *Store) MarkOperationRetrying(op *QueuedOperation, errMsg string) error {
	op.RetryCount++
	op.LastRetryAt = time.Now().UnixMilli()
	op.LastError = errMsg

	status := OpRetrying
	if op.RetryCount >= MaxOperationRetries {
		status = OpFailed
	}
	op.Status = status

	_, err := s.db.Exec(`
		UPDATE queued_operations SET status = ?, retry_count = ?, last_retry_at = ?, last_error = ?
		WHERE id = ?`,
		status, op.RetryCount, op.LastRetryAt, errMsg, op.ID)
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	if status == OpFailed {
		s.publish(bus.KindOperationFailed, bus.OperationResult{
			ProfileID:   op.ProfileID,
			OperationID: op.ID,
			Kind:        op.OperationKind,
			Error:       errMsg,
		})
	}
	return nil
}

// MarkOperationFailed terminally fails an operation (permanent error).
func (s *Store) MarkOperationFailed(op *QueuedOperation, errMsg string) error {
	op.Status = OpFailed
	op.LastError = errMsg
	_, err := s.db.Exec(`
		UPDATE queued_operations SET status = ?, last_error = ?
		WHERE id = ?`, OpFailed, errMsg, op.ID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	s.publish(bus.KindOperationFailed, bus.OperationResult{
		ProfileID:   op.ProfileID,
		OperationID: op.ID,
		Kind:        op.OperationKind,
		Error:       errMsg,
	})
	return nil
}

// MarkOperationCompleted finishes an operation successfully.
func (s *Store) MarkOperationCompleted(op *QueuedOperation) error {
	op.Status = OpCompleted
	_, err := s.db.Exec(`
		UPDATE queued_operations SET status = ?, last_error = ''
		WHERE id = ?`, OpCompleted, op.ID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.publish(bus.KindOperationCompleted, bus.OperationResult{
		ProfileID:   op.ProfileID,
		OperationID: op.ID,
		Kind:        op.OperationKind,
	})
	return nil
}
