package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type User struct {
	ID                   uuid.UUID         `gorm:"type:uuid;primaryKey"`
	TotalFocusTime       int64             `gorm:"type:bigint;not null;default:0;check:total_focus_time >= 0"`
	TotalDistractionTime int64             `gorm:"type:bigint;not null;default:0;check:total_distraction_time >= 0"`
	AppUsage             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt            time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

type Session struct {
	ID                   uuid.UUID         `gorm:"type:uuid;primaryKey"`
	UserID               uuid.UUID         `gorm:"type:uuid;not null;index:sessions_user_start,priority:1"`
	StartTime            time.Time         `gorm:"type:timestamptz;not null;index:sessions_user_start,priority:2"`
	EndTime              *time.Time        `gorm:"type:timestamptz"`
	FocusTime            int64             `gorm:"type:bigint;not null;default:0;check:focus_time >= 0"`
	DistractionTime      int64             `gorm:"type:bigint;not null;default:0;check:distraction_time >= 0"`
	AppUsage             datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	LastAPICallAt        *time.Time        `gorm:"column:last_api_call_at;type:timestamptz"`
	LastDetectedApp      string            `gorm:"type:text;not null;default:''"`
	LastDetectedActivity string            `gorm:"type:text;not null;default:''"`
	Stale                bool              `gorm:"not null;default:false"`
	User                 User              `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type SessionAudit struct {
	ID        int64             `gorm:"type:bigserial;primaryKey"`
	Actor     string            `gorm:"type:text;not null"`
	Action    string            `gorm:"type:text;not null"`
	SessionID uuid.UUID         `gorm:"type:uuid;not null;index"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	At        time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (SessionAudit) TableName() string { return "session_audit" }

// oneActivePerUser backs the single-active-session invariant.
const oneActivePerUser = `CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_user ON sessions (user_id) WHERE end_time IS NULL`

func open(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := open(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
		&SessionAudit{},
	); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, oneActivePerUser)
	return err
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := open(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&SessionAudit{},
		&Session{},
		&User{},
	)
}
