package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for OutboxMessageRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Event types published through the outbox.
const (
	EventTypeValidationOverridden = "validation.overridden"
	EventTypeValidationDismissed  = "validation.dismissed"
	EventTypeValidationEscalated  = "validation.escalated"
	EventTypeInvoiceValidated     = "invoice.validated"
)

// OutboxMessageRecord is one decision event awaiting publish. It is inserted
// on the same transaction as the decision and published after commit by the
// dispatcher, so an event exists iff its decision committed.
type OutboxMessageRecord struct {
	ID            int    `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType     string `gorm:"size:100;not null" json:"event_type"`
	ReferenceId   int    `gorm:"index;not null" json:"reference_id"`
	ReferenceType string `gorm:"size:50;not null" json:"reference_type"`
	Payload       []byte `gorm:"type:blob" json:"payload"`
	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToValidationEvent(record OutboxMessageRecord) config.ValidationEvent {
	return config.ValidationEvent{
		ID:            record.ID,
		EventType:     record.EventType,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		OccurredAt:    record.CreatedAt,
		Payload:       json.RawMessage(record.Payload),
		CorrelationId: record.CorrelationId,
	}
}

// PublishDecisionEvent stages an event on the caller's transaction. The
// correlation id follows the request when one is set.
func PublishDecisionEvent(ctx context.Context, tx *gorm.DB, eventType string, referenceId int, referenceType string, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}

	record := OutboxMessageRecord{
		EventType:     eventType,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		Payload:       payloadJSON,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.WithContext(ctx).Create(&record).Error
}
