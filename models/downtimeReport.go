package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"gorm.io/gorm"
)

// DowntimeReport tracks one downtime incident from the operator's report
// through repair, leader review and closure. Status mirrors the machine's
// status while the incident is open and is left at running once approved so
// the row doubles as the history entry.
type DowntimeReport struct {
	ID                    int           `gorm:"primaryKey" json:"id"`
	MachineId             int           `gorm:"index" json:"machineId"`
	Status                MachineStatus `gorm:"size:30" json:"status"`
	ProblemType           ProblemType   `gorm:"size:20" json:"problemType"`
	Description           string        `gorm:"type:text" json:"description"`
	ReporterId            int           `json:"reporterId"`
	ReporterName          string        `gorm:"size:100" json:"reporterName"`
	TechnicianId          *int          `json:"technicianId,omitempty"`
	TechnicianName        *string       `gorm:"size:100" json:"technicianName,omitempty"`
	ResolutionDescription *string       `gorm:"type:text" json:"resolutionDescription,omitempty"`
	ReturnReason          *string       `gorm:"type:text" json:"returnReason,omitempty"`
	ReportedAt            time.Time     `json:"reportedAt"`
	ResolvedAt            *time.Time    `json:"resolvedAt,omitempty"`
	ApprovedAt            *time.Time    `json:"approvedAt,omitempty"`
	ApproverName          *string       `gorm:"size:100" json:"approverName,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

func GetDowntimeReportById(ctx context.Context, id int) (*DowntimeReport, error) {
	db := config.GetDB()
	var report DowntimeReport
	err := db.WithContext(ctx).First(&report, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListDowntimeReports returns a machine's downtime history, newest first.
func ListDowntimeReports(ctx context.Context, machineId int) ([]DowntimeReport, error) {
	db := config.GetDB()
	var reports []DowntimeReport
	err := db.WithContext(ctx).
		Where("machine_id = ?", machineId).
		Order("reported_at desc, id desc").
		Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// GetOpenDowntimeReport finds the machine's unapproved report, if any.
func GetOpenDowntimeReport(tx *gorm.DB, machineId int) (*DowntimeReport, error) {
	var report DowntimeReport
	err := tx.
		Where("machine_id = ? AND approved_at IS NULL", machineId).
		Order("id desc").
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
