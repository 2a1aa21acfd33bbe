package models

import (
	"sort"
	"strings"
)

// DisplayStatus projects the stored state onto what a dashboard tile shows.
// A machine whose safety check came back idle displays idle regardless of its
// operational status. An active (unresolved downtime) machine displays down.
func (m *Machine) DisplayStatus() DisplayStatus {
	if m.SafetyStatus == SafetyStatusIdle {
		return DisplayStatusIdle
	}
	switch m.OperationalStatus {
	case MachineStatusActive:
		return DisplayStatusDown
	case MachineStatusMaintenance:
		return DisplayStatusMaintenance
	case MachineStatusWaitingLeaderApproval:
		return DisplayStatusWaitingLeaderApproval
	case MachineStatusWaitingForCustomer:
		return DisplayStatusWaitingForCustomer
	case MachineStatusIdle:
		return DisplayStatusIdle
	default:
		return DisplayStatusRunning
	}
}

// Machines needing attention float to the top of the board.
var displayPriority = map[DisplayStatus]int{
	DisplayStatusDown:                  0,
	DisplayStatusMaintenance:           1,
	DisplayStatusWaitingLeaderApproval: 2,
	DisplayStatusWaitingForCustomer:    3,
	DisplayStatusRunning:               4,
	DisplayStatusIdle:                  5,
}

// SortMachinesForDashboard orders by display priority, breaking ties by
// case-insensitive machine name so the board is stable between refreshes.
func SortMachinesForDashboard(machines []Machine) {
	sort.SliceStable(machines, func(i, j int) bool {
		pi := displayPriority[machines[i].DisplayStatus()]
		pj := displayPriority[machines[j].DisplayStatus()]
		if pi != pj {
			return pi < pj
		}
		return strings.ToLower(machines[i].Name) < strings.ToLower(machines[j].Name)
	})
}

type DashboardRow struct {
	MachineId     int           `json:"machineId"`
	Name          string        `json:"name"`
	Number        string        `json:"number"`
	Model         string        `json:"model"`
	DisplayStatus DisplayStatus `json:"displayStatus"`
}

// ProjectDashboard flattens machines into sorted dashboard rows.
func ProjectDashboard(machines []Machine) []DashboardRow {
	SortMachinesForDashboard(machines)
	rows := make([]DashboardRow, 0, len(machines))
	for _, m := range machines {
		rows = append(rows, DashboardRow{
			MachineId:     m.ID,
			Name:          m.Name,
			Number:        m.Number,
			Model:         m.Model,
			DisplayStatus: m.DisplayStatus(),
		})
	}
	return rows
}
