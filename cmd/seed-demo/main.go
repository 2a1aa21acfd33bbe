// Seeds a demo machine fleet with checklist catalogs for local development.
//
// Usage:
//
//	go run ./cmd/seed-demo
package main

import (
	"context"
	"log"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("bad decimal %q: %v", s, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func main() {
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	ctx := context.Background()

	machines := []models.Machine{
		{Name: "Press 01", Number: "PR-001", Model: "HP-200"},
		{Name: "Press 02", Number: "PR-002", Model: "HP-200"},
		{Name: "Lathe 01", Number: "LT-001", Model: "CNC-L5"},
		{Name: "Welder 01", Number: "WD-001", Model: "ARC-9"},
	}
	for i := range machines {
		if err := models.CreateMachine(ctx, &machines[i]); err != nil {
			log.Printf("machine %s: %v (may already exist)", machines[i].Name, err)
		}
	}

	daily := models.NewCadenceSet(models.CadenceDaily)
	weekly := models.NewCadenceSet(models.CadenceWeekly)
	monthly := models.NewCadenceSet(models.CadenceMonthly, models.CadenceQuarterly)

	items := []models.ChecklistItem{
		{MachineModel: "HP-200", Kind: models.InspectionKindDailyCheck, Name: "Check hydraulic oil level", Cadences: daily, Position: 1, IsActive: true},
		{MachineModel: "HP-200", Kind: models.InspectionKindDailyCheck, Name: "Inspect die alignment", Cadences: daily, Position: 2, IsActive: true},
		{MachineModel: "HP-200", Kind: models.InspectionKindDailyCheck, Name: "Grease slide rails", Cadences: weekly, Position: 3, IsActive: true},
		{MachineModel: "HP-200", Kind: models.InspectionKindDailyCheck, Name: "Replace filter cartridge", Cadences: monthly, RequiresImage: true, Position: 4, IsActive: true},
		{MachineModel: "HP-200", Kind: models.InspectionKindSafetyCheck, Name: "Test emergency stop", Cadences: daily, Position: 1, IsActive: true},
		{MachineModel: "HP-200", Kind: models.InspectionKindSafetyCheck, Name: "Verify light curtain", Cadences: daily, Position: 2, IsActive: true},
		{
			MachineModel: "HP-200", Kind: models.InspectionKindParameter, Name: "Ram pressure",
			Cadences: daily, NominalValue: dec("200"), MinValue: dec("195"), MaxValue: dec("205"),
			Unit: "bar", Position: 1, IsActive: true,
		},
		{MachineModel: "CNC-L5", Kind: models.InspectionKindDailyCheck, Name: "Check coolant level", Cadences: daily, Position: 1, IsActive: true},
		{MachineModel: "CNC-L5", Kind: models.InspectionKindDailyCheck, Name: "Clean chip conveyor", Cadences: daily, Position: 2, IsActive: true},
		{
			MachineModel: "CNC-L5", Kind: models.InspectionKindParameter, Name: "Spindle temperature",
			Cadences: daily, NominalValue: dec("45"), MinValue: dec("20"), MaxValue: dec("60"),
			Unit: "C", Position: 1, IsActive: true,
		},
		{MachineModel: "ARC-9", Kind: models.InspectionKindDailyCheck, Name: "Inspect ground clamp", Cadences: daily, Position: 1, IsActive: true},
		{MachineModel: "ARC-9", Kind: models.InspectionKindSafetyCheck, Name: "Check fume extraction", Cadences: daily, Position: 1, IsActive: true},
	}
	for i := range items {
		if err := models.CreateChecklistItem(ctx, &items[i]); err != nil {
			log.Printf("checklist item %s: %v", items[i].Name, err)
		}
	}

	log.Printf("seeded %d machines and %d checklist items", len(machines), len(items))
}
