package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MachineEventRecord is a transactional outbox row. It is written in the same
// transaction as the status change it describes and published to Pub/Sub by
// the dispatcher afterwards, so downstream consumers never see an event for a
// change that rolled back.
type MachineEventRecord struct {
	ID               int                `gorm:"primaryKey" json:"id"`
	MachineId        int                `gorm:"index" json:"machineId"`
	Action           MachineEventAction `gorm:"size:30" json:"action"`
	FromStatus       string             `gorm:"size:30" json:"fromStatus"`
	ToStatus         string             `gorm:"size:30" json:"toStatus"`
	DowntimeReportId *int               `json:"downtimeReportId,omitempty"`
	OccurredAt       time.Time          `json:"occurredAt"`
	CorrelationId    string             `gorm:"size:64" json:"correlationId"`
	PublishStatus    string             `gorm:"size:20;default:PENDING;index" json:"publishStatus"`
	PublishAttempts  int                `json:"publishAttempts"`
	LastPublishError string             `gorm:"type:text" json:"lastPublishError"`
	NextAttemptAt    *time.Time         `gorm:"index" json:"nextAttemptAt,omitempty"`
	LockedAt         *time.Time         `json:"lockedAt,omitempty"`
	LockedBy         string             `gorm:"size:64" json:"lockedBy"`
	PublishedAt      *time.Time         `json:"publishedAt,omitempty"`
	PubSubMessageId  string             `gorm:"size:64" json:"pubSubMessageId"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// AppendMachineEvent stages an event row inside the caller's transaction.
func AppendMachineEvent(ctx context.Context, tx *gorm.DB, machineId int, action MachineEventAction, from, to string, reportId *int) error {
	correlationId, ok := utils.GetCorrelationIdFromContext(ctx)
	if !ok || correlationId == "" {
		correlationId = uuid.NewString()
	}
	now := time.Now()
	event := MachineEventRecord{
		MachineId:        machineId,
		Action:           action,
		FromStatus:       from,
		ToStatus:         to,
		DowntimeReportId: reportId,
		OccurredAt:       now,
		CorrelationId:    correlationId,
		PublishStatus:    OutboxPublishStatusPending,
		NextAttemptAt:    &now,
	}
	return tx.Create(&event).Error
}

func (e *MachineEventRecord) ConvertToMachineEventMessage() config.MachineEventMessage {
	return config.MachineEventMessage{
		ID:            e.ID,
		MachineId:     e.MachineId,
		Action:        string(e.Action),
		FromStatus:    e.FromStatus,
		ToStatus:      e.ToStatus,
		ReportId:      e.DowntimeReportId,
		OccurredAt:    e.OccurredAt,
		CorrelationId: e.CorrelationId,
	}
}
