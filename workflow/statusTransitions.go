package workflow

import (
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"gorm.io/gorm"
)

// StatusAction is a requested change to a machine's operational status. Every
// mutation goes through NextStatus so there is exactly one guard table.
type StatusAction string

const (
	ActionReportDowntime    StatusAction = "report_downtime"
	ActionAcceptRepair      StatusAction = "accept_repair"
	ActionRecordResolution  StatusAction = "record_resolution"
	ActionApproveResolution StatusAction = "approve_resolution"
	ActionReturnForEdit     StatusAction = "return_for_edit"
	ActionRequestHold       StatusAction = "request_hold"
	ActionCancelHold        StatusAction = "cancel_hold"
	ActionMarkIdle          StatusAction = "mark_idle"
)

// NextStatus computes the target status for an action against the current
// status, or an invalid-transition error naming both. previous is consulted
// only by cancel_hold, which restores the snapshot taken when the hold began
// and falls back to running when no snapshot exists.
func NextStatus(current models.MachineStatus, previous *models.MachineStatus, action StatusAction) (models.MachineStatus, error) {
	switch action {
	case ActionReportDowntime:
		if current == models.MachineStatusRunning || current == models.MachineStatusIdle {
			return models.MachineStatusActive, nil
		}
	case ActionAcceptRepair:
		if current == models.MachineStatusActive {
			return models.MachineStatusMaintenance, nil
		}
	case ActionRecordResolution:
		if current == models.MachineStatusMaintenance {
			return models.MachineStatusWaitingLeaderApproval, nil
		}
	case ActionApproveResolution:
		if current == models.MachineStatusWaitingLeaderApproval {
			return models.MachineStatusRunning, nil
		}
	case ActionReturnForEdit:
		if current == models.MachineStatusWaitingLeaderApproval {
			return models.MachineStatusActive, nil
		}
	case ActionRequestHold:
		if current == models.MachineStatusRunning || current == models.MachineStatusIdle {
			return models.MachineStatusWaitingForCustomer, nil
		}
	case ActionCancelHold:
		if current == models.MachineStatusWaitingForCustomer {
			if previous != nil && *previous != "" {
				return *previous, nil
			}
			return models.MachineStatusRunning, nil
		}
	case ActionMarkIdle:
		if current == models.MachineStatusRunning {
			return models.MachineStatusIdle, nil
		}
	}
	return "", utils.NewInvalidTransition(string(current), string(requestedState(previous, action)))
}

// requestedState is the status an action drives toward regardless of whether
// the transition is allowed, so invalid-transition errors name states, not
// action verbs.
func requestedState(previous *models.MachineStatus, action StatusAction) models.MachineStatus {
	switch action {
	case ActionReportDowntime:
		return models.MachineStatusActive
	case ActionAcceptRepair:
		return models.MachineStatusMaintenance
	case ActionRecordResolution:
		return models.MachineStatusWaitingLeaderApproval
	case ActionApproveResolution:
		return models.MachineStatusRunning
	case ActionReturnForEdit:
		return models.MachineStatusActive
	case ActionRequestHold:
		return models.MachineStatusWaitingForCustomer
	case ActionCancelHold:
		if previous != nil && *previous != "" {
			return *previous
		}
		return models.MachineStatusRunning
	case ActionMarkIdle:
		return models.MachineStatusIdle
	}
	return ""
}

// Roles come from the gateway; operators may report downtime, request holds
// and submit inspections, technicians take and resolve repairs, leaders
// review resolutions.
func AuthorizeAction(role models.ActorRole, action StatusAction) error {
	switch action {
	case ActionAcceptRepair, ActionRecordResolution:
		if role == models.ActorRoleTechnician {
			return nil
		}
		return utils.ErrUnauthorized
	case ActionApproveResolution, ActionReturnForEdit:
		if role == models.ActorRoleLeader {
			return nil
		}
		return utils.ErrUnauthorized
	}
	return nil
}

// applyStatusTransition moves the machine with an optimistic conditional
// update keyed on the status the caller observed. Zero rows affected means a
// concurrent writer won; the machine is re-read and the caller gets an
// invalid-transition error carrying the fresh status.
func applyStatusTransition(tx *gorm.DB, machine *models.Machine, action StatusAction) (models.MachineStatus, models.MachineStatus, error) {
	from := machine.OperationalStatus
	to, err := NextStatus(from, machine.PreviousStatus, action)
	if err != nil {
		return "", "", err
	}

	updates := map[string]interface{}{"operational_status": to}
	switch action {
	case ActionRequestHold:
		updates["previous_status"] = from
	case ActionCancelHold:
		updates["previous_status"] = nil
	}

	query := tx.Model(&models.Machine{}).
		Where("id = ? AND operational_status = ?", machine.ID, from)
	if action == ActionCancelHold {
		// The restore target came from the snapshot read outside this update.
		// Guard it too, or a cancel racing a re-hold from a different prior
		// state would restore a stale snapshot. NULL-safe: no snapshot means
		// the running default.
		query = query.Where("previous_status <=> ?", machine.PreviousStatus)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return "", "", result.Error
	}
	if result.RowsAffected == 0 {
		var fresh models.Machine
		if err := tx.First(&fresh, machine.ID).Error; err != nil {
			return "", "", err
		}
		return "", "", utils.NewInvalidTransition(string(fresh.OperationalStatus), string(to))
	}

	machine.OperationalStatus = to
	switch action {
	case ActionRequestHold:
		machine.PreviousStatus = &from
	case ActionCancelHold:
		machine.PreviousStatus = nil
	}
	return from, to, nil
}
