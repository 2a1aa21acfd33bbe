package models

import (
	"bitbucket.org/mmdatafocus/factoryops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Machine{},
		&ChecklistItem{},
		&InspectionSlot{},
		&InspectionRecord{},
		&InspectionItemResult{},
		&DowntimeReport{},
		&MachineEventRecord{},
	)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "MigrateTable", "auto migrate", "", err)
	}
}
