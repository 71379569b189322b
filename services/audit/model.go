package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type auditModel struct {
	ID        int64             `gorm:"type:bigserial;primaryKey"`
	Actor     string            `gorm:"type:text;not null"`
	Action    string            `gorm:"type:text;not null"`
	SessionID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	At        time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (auditModel) TableName() string { return "session_audit" }

// Entry is one recorded lifecycle event.
type Entry struct {
	ID        int64          `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	SessionID uuid.UUID      `json:"session_id"`
	Details   map[string]any `json:"details"`
	At        time.Time      `json:"at"`
}

func (m auditModel) toEntry() Entry {
	return Entry{
		ID:        m.ID,
		Actor:     m.Actor,
		Action:    m.Action,
		SessionID: m.SessionID,
		Details:   mapFromJSONMap(m.Details),
		At:        m.At,
	}
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range src {
		out[k] = v
	}
	return out
}
