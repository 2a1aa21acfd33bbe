package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

const machineLockTTL = 30 * time.Second

// acquireMachineLock takes a best-effort per-machine Redis lock to keep
// concurrent writers from burning transaction retries against each other.
// The conditional status update inside the transaction stays authoritative;
// a nil release func just means the lock service was unavailable.
func acquireMachineLock(ctx context.Context, machineId int) func() {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}
	}
	key := fmt.Sprintf("lock:machine:%d", machineId)
	lock, err := locker.Obtain(ctx, key, machineLockTTL, nil)
	if err != nil {
		if err != redislock.ErrNotObtained {
			config.LogError(config.GetLogger(), "workflow", "acquireMachineLock", "obtain", key, err)
		}
		return func() {}
	}
	return func() {
		_ = lock.Release(context.Background())
	}
}

type ReportDowntimeInput struct {
	MachineId   int                `json:"machineId" binding:"required"`
	ProblemType models.ProblemType `json:"problemType" binding:"required"`
	Description string             `json:"description" binding:"required"`
}

// ReportDowntime takes a running or idle machine down and opens the report.
func ReportDowntime(ctx context.Context, input *ReportDowntimeInput) (*models.DowntimeReport, error) {
	if !input.ProblemType.Valid() {
		return nil, fmt.Errorf("%w: unknown problem type %q", utils.ErrIncompleteSubmission, input.ProblemType)
	}
	machine, err := models.GetMachineById(ctx, input.MachineId)
	if err != nil {
		return nil, err
	}

	reporterId, _ := utils.GetActorIdFromContext(ctx)
	reporterName, _ := utils.GetActorNameFromContext(ctx)

	release := acquireMachineLock(ctx, machine.ID)
	defer release()

	report := &models.DowntimeReport{
		MachineId:    machine.ID,
		Status:       models.MachineStatusActive,
		ProblemType:  input.ProblemType,
		Description:  input.Description,
		ReporterId:   reporterId,
		ReporterName: reporterName,
		ReportedAt:   time.Now(),
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from, to, err := applyStatusTransition(tx, machine, ActionReportDowntime)
		if err != nil {
			return err
		}
		if err := tx.Create(report).Error; err != nil {
			return err
		}
		return models.AppendMachineEvent(ctx, tx, machine.ID, models.MachineEventActionStatusChanged, string(from), string(to), &report.ID)
	})
	if err != nil {
		return nil, err
	}

	invalidateDashboardCache()
	return report, nil
}

// AcceptDowntime assigns the calling technician and starts maintenance.
func AcceptDowntime(ctx context.Context, reportId int) (*models.DowntimeReport, error) {
	return advanceDowntime(ctx, reportId, ActionAcceptRepair, func(tx *gorm.DB, report *models.DowntimeReport) error {
		technicianId, _ := utils.GetActorIdFromContext(ctx)
		technicianName, _ := utils.GetActorNameFromContext(ctx)
		return updateReportStatus(tx, report, models.MachineStatusActive, models.MachineStatusMaintenance, map[string]interface{}{
			"technician_id":   technicianId,
			"technician_name": technicianName,
		})
	})
}

type ResolveDowntimeInput struct {
	ResolutionDescription string `json:"resolutionDescription" binding:"required"`
}

// ResolveDowntime records the fix and parks the machine for leader review.
func ResolveDowntime(ctx context.Context, reportId int, input *ResolveDowntimeInput) (*models.DowntimeReport, error) {
	return advanceDowntime(ctx, reportId, ActionRecordResolution, func(tx *gorm.DB, report *models.DowntimeReport) error {
		now := time.Now()
		return updateReportStatus(tx, report, models.MachineStatusMaintenance, models.MachineStatusWaitingLeaderApproval, map[string]interface{}{
			"resolution_description": input.ResolutionDescription,
			"resolved_at":            now,
		})
	})
}

// ApproveDowntime closes the incident and puts the machine back to running.
// The report keeps its technician and resolution fields as history.
func ApproveDowntime(ctx context.Context, reportId int) (*models.DowntimeReport, error) {
	return advanceDowntime(ctx, reportId, ActionApproveResolution, func(tx *gorm.DB, report *models.DowntimeReport) error {
		approverName, _ := utils.GetActorNameFromContext(ctx)
		now := time.Now()
		return updateReportStatus(tx, report, models.MachineStatusWaitingLeaderApproval, models.MachineStatusRunning, map[string]interface{}{
			"approved_at":   now,
			"approver_name": approverName,
		})
	})
}

type ReturnDowntimeInput struct {
	ReturnReason string `json:"returnReason" binding:"required"`
}

// ReturnDowntime sends the resolution back for rework. The technician
// assignment is cleared so the report can be taken again, possibly by
// someone else.
func ReturnDowntime(ctx context.Context, reportId int, input *ReturnDowntimeInput) (*models.DowntimeReport, error) {
	return advanceDowntime(ctx, reportId, ActionReturnForEdit, func(tx *gorm.DB, report *models.DowntimeReport) error {
		return updateReportStatus(tx, report, models.MachineStatusWaitingLeaderApproval, models.MachineStatusActive, map[string]interface{}{
			"technician_id":          nil,
			"technician_name":        nil,
			"resolution_description": nil,
			"resolved_at":            nil,
			"return_reason":          input.ReturnReason,
		})
	})
}

// advanceDowntime is the shared shape of every report-driven transition:
// authorize the actor, lock the machine, then move report and machine
// together in one transaction with an outbox event.
func advanceDowntime(ctx context.Context, reportId int, action StatusAction, mutate func(tx *gorm.DB, report *models.DowntimeReport) error) (*models.DowntimeReport, error) {
	role, _ := utils.GetActorRoleFromContext(ctx)
	if err := AuthorizeAction(models.ActorRole(role), action); err != nil {
		return nil, err
	}

	report, err := models.GetDowntimeReportById(ctx, reportId)
	if err != nil {
		return nil, err
	}
	// Approval closes a report for good. Acting on a closed report must never
	// reopen it, even when the machine happens to be in a state the action
	// could move.
	if report.ApprovedAt != nil {
		return nil, utils.NewInvalidTransition(string(report.Status), string(requestedState(nil, action)))
	}
	machine, err := models.GetMachineById(ctx, report.MachineId)
	if err != nil {
		return nil, err
	}

	release := acquireMachineLock(ctx, machine.ID)
	defer release()

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from, to, err := applyStatusTransition(tx, machine, action)
		if err != nil {
			return err
		}
		if err := mutate(tx, report); err != nil {
			return err
		}
		return models.AppendMachineEvent(ctx, tx, machine.ID, models.MachineEventActionStatusChanged, string(from), string(to), &report.ID)
	})
	if err != nil {
		return nil, err
	}

	invalidateDashboardCache()
	return models.GetDowntimeReportById(ctx, report.ID)
}

// updateReportStatus moves the report with the same optimistic guard the
// machine uses, keyed on the action's required source status rather than
// whatever the caller last read. A stale, concurrently moved or already
// approved report shows up as zero rows affected.
func updateReportStatus(tx *gorm.DB, report *models.DowntimeReport, from, to models.MachineStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	result := tx.Model(&models.DowntimeReport{}).
		Where("id = ? AND status = ? AND approved_at IS NULL", report.ID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var fresh models.DowntimeReport
		if err := tx.First(&fresh, report.ID).Error; err != nil {
			return err
		}
		return utils.NewInvalidTransition(string(fresh.Status), string(to))
	}
	report.Status = to
	return nil
}

// RequestHold parks a running or idle machine in waiting_for_customer,
// remembering where it was.
func RequestHold(ctx context.Context, machineId int) (*models.Machine, error) {
	return moveMachine(ctx, machineId, ActionRequestHold)
}

// CancelHold releases the hold back to the snapshotted status, defaulting to
// running when the snapshot is missing.
func CancelHold(ctx context.Context, machineId int) (*models.Machine, error) {
	return moveMachine(ctx, machineId, ActionCancelHold)
}

func moveMachine(ctx context.Context, machineId int, action StatusAction) (*models.Machine, error) {
	machine, err := models.GetMachineById(ctx, machineId)
	if err != nil {
		return nil, err
	}

	release := acquireMachineLock(ctx, machine.ID)
	defer release()

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		from, to, err := applyStatusTransition(tx, machine, action)
		if err != nil {
			return err
		}
		return models.AppendMachineEvent(ctx, tx, machine.ID, models.MachineEventActionStatusChanged, string(from), string(to), nil)
	})
	if err != nil {
		return nil, err
	}

	invalidateDashboardCache()
	return machine, nil
}
