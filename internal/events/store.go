package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/db"
	"github.com/swiftwatch/swiftwatch-backend/pkg/db/models"
	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
	pkgerrors "github.com/swiftwatch/swiftwatch-backend/pkg/errors"
)

// StoreParams configures the billing event store.
type StoreParams struct {
	Repo Repository
}

// Store is the append-only log of webhook deliveries. Recording the same
// (provider, external_event_id) twice returns the original row so handlers
// can skip replays without reprocessing.
type Store struct {
	repo Repository
}

// NewStore validates dependencies and returns an event store.
func NewStore(params StoreParams) (*Store, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repo required")
	}
	return &Store{repo: params.Repo}, nil
}

// RecordInput carries a normalized inbound delivery.
type RecordInput struct {
	Provider        enums.BillingProvider
	ExternalEventID string
	EventType       string
	Payload         json.RawMessage
}

// Record persists the delivery and reports whether it was seen before.
// The unique index on (provider, external_event_id) arbitrates concurrent
// replays: the loser of the insert race reads the winner's row.
func (s *Store) Record(ctx context.Context, input RecordInput) (*models.BillingEvent, bool, error) {
	if !input.Provider.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "billing provider is invalid")
	}
	if input.ExternalEventID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "external event id is required")
	}
	if input.EventType == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}

	event := &models.BillingEvent{
		ID:              uuid.New(),
		Provider:        input.Provider,
		ExternalEventID: input.ExternalEventID,
		EventType:       input.EventType,
		Payload:         input.Payload,
		Status:          enums.BillingEventStatusPending,
		ReceivedAt:      time.Now().UTC(),
	}

	err := s.repo.Create(ctx, event)
	if err == nil {
		return event, false, nil
	}
	if !db.IsUniqueViolation(err, "ux_billing_events_provider_event") {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record billing event")
	}

	existing, findErr := s.repo.FindByProviderEventID(ctx, input.Provider, input.ExternalEventID)
	if findErr != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing billing event")
	}
	if existing == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeInternal, "billing event vanished after conflict")
	}
	return existing, true, nil
}

// MarkProcessed transitions the event to its terminal state.
func (s *Store) MarkProcessed(ctx context.Context, event *models.BillingEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "billing event is required")
	}
	now := time.Now().UTC()
	event.Status = enums.BillingEventStatusProcessed
	event.ProcessedAt = &now
	event.ProcessingError = nil
	if err := s.repo.Update(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark billing event processed")
	}
	return nil
}

// MarkFailed records the failure reason so the retry job can pick the event up.
func (s *Store) MarkFailed(ctx context.Context, event *models.BillingEvent, cause error) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "billing event is required")
	}
	event.Status = enums.BillingEventStatusFailed
	if cause != nil {
		msg := cause.Error()
		event.ProcessingError = &msg
	}
	if err := s.repo.Update(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark billing event failed")
	}
	return nil
}

// ListFailed returns failed events younger than maxAge, oldest first.
func (s *Store) ListFailed(ctx context.Context, limit int, maxAge time.Duration) ([]models.BillingEvent, error) {
	batch, err := s.repo.ListFailed(ctx, limit, maxAge)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed billing events")
	}
	return batch, nil
}
