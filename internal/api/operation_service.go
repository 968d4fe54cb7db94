package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paychat-app/paychat/internal/timeline"
)

// OperationService queues non-timeline operations for offline-safe
// execution.
type OperationService struct {
	store *timeline.Store
	scope func() string
}

// NewOperationService creates an operation service.
func NewOperationService(store *timeline.Store, scope func() string) *OperationService {
	return &OperationService{store: store, scope: scope}
}

func (s *OperationService) profileID() (string, error) {
	p := s.scope()
	if p == "" {
		return "", fmt.Errorf("no active profile")
	}
	return p, nil
}

// Enqueue queues one operation. A newer operation of the same kind for
// the same target supersedes any still-pending older one.
func (s *OperationService) Enqueue(kind, targetEntityID, endpoint, payload string) (*timeline.QueuedOperation, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	op := &timeline.QueuedOperation{
		ID:             uuid.New().String(),
		ProfileID:      profileID,
		OperationKind:  kind,
		TargetEntityID: targetEntityID,
		Endpoint:       endpoint,
		Payload:        payload,
		Status:         timeline.OpPending,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := s.store.EnqueueOperation(op); err != nil {
		return nil, err
	}
	return op, nil
}

// ListPending returns operations still waiting to execute.
func (s *OperationService) ListPending() ([]timeline.QueuedOperation, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	return s.store.PendingOperations(profileID)
}

// ListFailed returns operations that exhausted their retries or were
// rejected, for surfacing to the user.
func (s *OperationService) ListFailed() ([]timeline.QueuedOperation, error) {
	profileID, err := s.profileID()
	if err != nil {
		return nil, err
	}
	return s.store.FailedOperations(profileID)
}
