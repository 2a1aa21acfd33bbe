package models

// MachineStatus is the single authoritative operational status of a machine.
// "down" is a display alias for active used only by dashboard projections,
// never stored.
type MachineStatus string

const (
	MachineStatusRunning               MachineStatus = "running"
	MachineStatusIdle                  MachineStatus = "idle"
	MachineStatusActive                MachineStatus = "active"
	MachineStatusMaintenance           MachineStatus = "maintenance"
	MachineStatusWaitingLeaderApproval MachineStatus = "waiting_leader_approval"
	MachineStatusWaitingForCustomer    MachineStatus = "waiting_for_customer"
)

func (s MachineStatus) Valid() bool {
	switch s {
	case MachineStatusRunning, MachineStatusIdle, MachineStatusActive,
		MachineStatusMaintenance, MachineStatusWaitingLeaderApproval,
		MachineStatusWaitingForCustomer:
		return true
	}
	return false
}

// DisplayStatus is what a dashboard shows for a machine.
type DisplayStatus string

const (
	DisplayStatusDown                  DisplayStatus = "down"
	DisplayStatusMaintenance           DisplayStatus = "maintenance"
	DisplayStatusWaitingLeaderApproval DisplayStatus = "waiting_leader_approval"
	DisplayStatusWaitingForCustomer    DisplayStatus = "waiting_for_customer"
	DisplayStatusRunning               DisplayStatus = "running"
	DisplayStatusIdle                  DisplayStatus = "idle"
)

// SafetyStatus is the independent safety-check flag on a machine. It is set by
// safety-check inspections and overrides the operational status on dashboards.
type SafetyStatus string

const (
	SafetyStatusOk   SafetyStatus = "ok"
	SafetyStatusIdle SafetyStatus = "idle"
)

// ShiftCode identifies one of the two 12-hour operating windows per day.
type ShiftCode string

const (
	ShiftCodeDay   ShiftCode = "D"
	ShiftCodeNight ShiftCode = "N"
)

type OverallResult string

const (
	OverallResultPass OverallResult = "pass"
	OverallResultFail OverallResult = "fail"
	OverallResultIdle OverallResult = "idle"
)

func (r OverallResult) Valid() bool {
	switch r {
	case OverallResultPass, OverallResultFail, OverallResultIdle:
		return true
	}
	return false
}

type ItemResult string

const (
	ItemResultPass ItemResult = "pass"
	ItemResultFail ItemResult = "fail"
	ItemResultIdle ItemResult = "idle"
)

func (r ItemResult) Valid() bool {
	switch r {
	case ItemResultPass, ItemResultFail, ItemResultIdle:
		return true
	}
	return false
}

type InspectionKind string

const (
	InspectionKindDailyCheck  InspectionKind = "daily_check"
	InspectionKindSafetyCheck InspectionKind = "safety_check"
	InspectionKindParameter   InspectionKind = "parameter"
	InspectionKindQuality     InspectionKind = "quality"
)

func (k InspectionKind) Valid() bool {
	switch k {
	case InspectionKindDailyCheck, InspectionKindSafetyCheck, InspectionKindParameter, InspectionKindQuality:
		return true
	}
	return false
}

// ActorRole comes from the upstream gateway; this core only checks it.
type ActorRole string

const (
	ActorRoleOperator   ActorRole = "operator"
	ActorRoleTechnician ActorRole = "technician"
	ActorRoleLeader     ActorRole = "leader"
)

type ProblemType string

const (
	ProblemTypeMechanical ProblemType = "mechanical"
	ProblemTypeElectrical ProblemType = "electrical"
	ProblemTypePneumatic  ProblemType = "pneumatic"
	ProblemTypeSoftware   ProblemType = "software"
	ProblemTypeOther      ProblemType = "other"
)

func (t ProblemType) Valid() bool {
	switch t {
	case ProblemTypeMechanical, ProblemTypeElectrical, ProblemTypePneumatic, ProblemTypeSoftware, ProblemTypeOther:
		return true
	}
	return false
}

type MachineEventAction string

const (
	MachineEventActionStatusChanged MachineEventAction = "status_changed"
	MachineEventActionSafetyChanged MachineEventAction = "safety_changed"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
