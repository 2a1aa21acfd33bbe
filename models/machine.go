package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"gorm.io/gorm"
)

// Machine is a registered piece of floor equipment. OperationalStatus is the
// only authoritative status field; PreviousStatus is populated solely while
// the machine is parked in waiting_for_customer so the hold can be released
// back to where it came from.
type Machine struct {
	ID                int            `gorm:"primaryKey" json:"id"`
	Name              string         `gorm:"size:100;uniqueIndex" json:"name" binding:"required"`
	Number            string         `gorm:"size:50;index" json:"number"`
	Model             string         `gorm:"size:100;index" json:"model" binding:"required"`
	OperationalStatus MachineStatus  `gorm:"size:30;default:running" json:"operationalStatus"`
	PreviousStatus    *MachineStatus `gorm:"size:30" json:"previousStatus,omitempty"`
	SafetyStatus      SafetyStatus   `gorm:"size:10;default:ok" json:"safetyStatus"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func CreateMachine(ctx context.Context, machine *Machine) error {
	if machine.OperationalStatus == "" {
		machine.OperationalStatus = MachineStatusRunning
	}
	if machine.SafetyStatus == "" {
		machine.SafetyStatus = SafetyStatusOk
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(machine).Error; err != nil {
		config.LogError(config.GetLogger(), "models", "CreateMachine", "insert", machine.Name, err)
		return err
	}
	return nil
}

func GetMachineById(ctx context.Context, id int) (*Machine, error) {
	db := config.GetDB()
	var machine Machine
	err := db.WithContext(ctx).First(&machine, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &machine, nil
}

// LookupMachine resolves a scanned or typed identifier against name, number
// and model, in that order. Badge scanners send whatever the label carries.
func LookupMachine(ctx context.Context, scanned string) (*Machine, error) {
	scanned = strings.TrimSpace(scanned)
	if scanned == "" {
		return nil, utils.ErrorRecordNotFound
	}
	db := config.GetDB()
	var machine Machine
	for _, column := range []string{"name", "number", "model"} {
		err := db.WithContext(ctx).Where(column+" = ?", scanned).First(&machine).Error
		if err == nil {
			return &machine, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func ListMachines(ctx context.Context) ([]Machine, error) {
	db := config.GetDB()
	var machines []Machine
	if err := db.WithContext(ctx).Order("name asc").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}
