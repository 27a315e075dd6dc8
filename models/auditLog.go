package models

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// AuditLog is the insert-only trail of review decisions. Rows are written in
// the same transaction as the state change they record, so a decision and its
// audit entry either both exist or neither does.
type AuditLog struct {
	ID        int       `gorm:"primary_key" json:"id"`
	UserId    int       `gorm:"index;not null" json:"user_id"`
	Action    string    `gorm:"size:100;not null;index" json:"action"`
	Entity    string    `gorm:"size:100;not null" json:"entity"`
	EntityId  int       `gorm:"index;not null" json:"entity_id"`
	Changes   string    `gorm:"type:text" json:"changes"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CreateAuditLog writes one audit row on the caller's transaction. changes is
// marshalled to JSON text so the trail stays readable in plain SQL.
func CreateAuditLog(ctx context.Context, tx *gorm.DB, userId int, action, entity string, entityId int, changes map[string]interface{}) error {
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return err
	}
	row := AuditLog{
		UserId:   userId,
		Action:   action,
		Entity:   entity,
		EntityId: entityId,
		Changes:  string(changesJSON),
	}
	return tx.WithContext(ctx).Create(&row).Error
}
