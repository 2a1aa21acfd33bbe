package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"github.com/shopspring/decimal"
)

// ChecklistItem is one catalog entry shared by all machines of a model.
// Parameter items carry a nominal value and a tolerance band; a measured value
// outside [MinValue, MaxValue] cannot be recorded as a passing result.
type ChecklistItem struct {
	ID            int                 `gorm:"primaryKey" json:"id"`
	MachineModel  string              `gorm:"size:100;index:idx_checklist_model_kind" json:"machineModel" binding:"required"`
	Kind          InspectionKind      `gorm:"size:20;index:idx_checklist_model_kind" json:"kind" binding:"required"`
	Name          string              `gorm:"size:255" json:"name" binding:"required"`
	Cadences      CadenceSet          `gorm:"size:100" json:"cadences"`
	RequiresImage bool                `json:"requiresImage"`
	NominalValue  decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"nominalValue"`
	MinValue      decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"minValue"`
	MaxValue      decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"maxValue"`
	Unit          string              `gorm:"size:20" json:"unit"`
	Position      int                 `json:"position"`
	IsActive      bool                `gorm:"default:true" json:"isActive"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

func CreateChecklistItem(ctx context.Context, item *ChecklistItem) error {
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		config.LogError(config.GetLogger(), "models", "CreateChecklistItem", "insert", item.Name, err)
		return err
	}
	return nil
}

// GetChecklistItems returns the active catalog entries for a machine model and
// inspection kind whose cadence set intersects the given one. The cadence
// filter runs in Go since the column holds a tag list, not a bitmask.
func GetChecklistItems(ctx context.Context, machineModel string, kind InspectionKind, cadences CadenceSet) ([]ChecklistItem, error) {
	db := config.GetDB()
	var items []ChecklistItem
	err := db.WithContext(ctx).
		Where("machine_model = ? AND kind = ? AND is_active = ?", machineModel, kind, true).
		Order("position asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	due := make([]ChecklistItem, 0, len(items))
	for _, item := range items {
		if item.Cadences.Intersects(cadences) {
			due = append(due, item)
		}
	}
	return due, nil
}

func ListChecklistItemsByModel(ctx context.Context, machineModel string) ([]ChecklistItem, error) {
	db := config.GetDB()
	var items []ChecklistItem
	err := db.WithContext(ctx).
		Where("machine_model = ?", machineModel).
		Order("kind asc, position asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
