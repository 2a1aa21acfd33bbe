package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ItemSubmission struct {
	ChecklistItemId int               `json:"checklistItemId" binding:"required"`
	Result          models.ItemResult `json:"result" binding:"required"`
	IssueText       string            `json:"issueText"`
	ImageId         string            `json:"imageId"`
	MeasuredValue   *decimal.Decimal  `json:"measuredValue"`
}

// InspectionSubmission carries one full checklist submission. Explicit, when
// present, overrides the calendar-derived cadence set for catch-up rounds.
type InspectionSubmission struct {
	MachineId     int                      `json:"machineId" binding:"required"`
	Kind          models.InspectionKind    `json:"kind" binding:"required"`
	SubmittedAt   time.Time                `json:"submittedAt"`
	OverallResult models.OverallResult     `json:"overallResult" binding:"required"`
	Explicit      *models.CadenceSelection `json:"explicit,omitempty"`
	Items         []ItemSubmission         `json:"items"`
}

type SubmitInspectionResult struct {
	RecordNumber  string               `json:"recordNumber"`
	RecordId      int                  `json:"recordId"`
	OperatingDate time.Time            `json:"operatingDate"`
	ShiftCode     models.ShiftCode     `json:"shiftCode"`
	Cadences      models.CadenceSet    `json:"cadences"`
	MachineStatus models.MachineStatus `json:"machineStatus"`
}

// ValidateSubmission checks a submission against the due checklist items
// before anything is written. All violations map to an incomplete-submission
// error naming the offending item.
func ValidateSubmission(sub *InspectionSubmission, catalog []models.ChecklistItem) error {
	if !sub.Kind.Valid() {
		return fmt.Errorf("%w: unknown inspection kind %q", utils.ErrIncompleteSubmission, sub.Kind)
	}
	if !sub.OverallResult.Valid() {
		return fmt.Errorf("%w: unknown overall result %q", utils.ErrIncompleteSubmission, sub.OverallResult)
	}

	byId := make(map[int]*models.ChecklistItem, len(catalog))
	for i := range catalog {
		byId[catalog[i].ID] = &catalog[i]
	}

	covered := make(map[int]bool, len(sub.Items))
	failingItems := 0
	for i := range sub.Items {
		item := &sub.Items[i]
		entry, ok := byId[item.ChecklistItemId]
		if !ok {
			return fmt.Errorf("%w: item %d is not on the due checklist", utils.ErrIncompleteSubmission, item.ChecklistItemId)
		}
		if covered[item.ChecklistItemId] {
			return fmt.Errorf("%w: item %q submitted twice", utils.ErrIncompleteSubmission, entry.Name)
		}
		covered[item.ChecklistItemId] = true

		if !item.Result.Valid() {
			return fmt.Errorf("%w: item %q has no result", utils.ErrIncompleteSubmission, entry.Name)
		}
		if item.Result == models.ItemResultFail {
			failingItems++
			if item.IssueText == "" {
				return fmt.Errorf("%w: failing item %q needs an issue description", utils.ErrIncompleteSubmission, entry.Name)
			}
		}
		if entry.RequiresImage && item.ImageId == "" {
			return fmt.Errorf("%w: item %q requires a photo", utils.ErrIncompleteSubmission, entry.Name)
		}
		if entry.MinValue.Valid && entry.MaxValue.Valid && item.Result == models.ItemResultPass {
			if item.MeasuredValue == nil {
				return fmt.Errorf("%w: item %q needs a measured value", utils.ErrIncompleteSubmission, entry.Name)
			}
			outOfBand := item.MeasuredValue.LessThan(entry.MinValue.Decimal) ||
				item.MeasuredValue.GreaterThan(entry.MaxValue.Decimal)
			if outOfBand {
				return fmt.Errorf("%w: item %q measured %s outside [%s, %s] cannot pass",
					utils.ErrIncompleteSubmission, entry.Name,
					item.MeasuredValue.String(), entry.MinValue.Decimal.String(), entry.MaxValue.Decimal.String())
			}
		}
	}

	for id, entry := range byId {
		if !covered[id] {
			return fmt.Errorf("%w: item %q has no result", utils.ErrIncompleteSubmission, entry.Name)
		}
	}
	if sub.OverallResult == models.OverallResultFail && failingItems == 0 {
		return fmt.Errorf("%w: overall fail needs at least one failing item", utils.ErrIncompleteSubmission)
	}
	return nil
}

// SubmitInspection resolves the shift window, validates the submission
// against the due checklist and records it atomically. The slot insert runs
// first inside the transaction so a lost race surfaces as already-inspected
// before any record rows exist.
func SubmitInspection(ctx context.Context, sub *InspectionSubmission) (*SubmitInspectionResult, error) {
	logger := config.GetLogger()

	submittedAt := sub.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	shift, operatingDate := models.ResolveShift(submittedAt)

	var cadences models.CadenceSet
	if sub.Explicit != nil {
		cadences = models.CadencesFromSelection(*sub.Explicit)
		if cadences.IsEmpty() {
			return nil, fmt.Errorf("%w: explicit cadence selection is empty", utils.ErrIncompleteSubmission)
		}
	} else {
		cadences = models.CadencesForDate(operatingDate)
	}

	machine, err := models.GetMachineById(ctx, sub.MachineId)
	if err != nil {
		return nil, err
	}

	catalog, err := models.GetChecklistItems(ctx, machine.Model, sub.Kind, cadences)
	if err != nil {
		config.LogError(logger, "workflow", "SubmitInspection", "load checklist", machine.Model, err)
		return nil, utils.ErrStorageUnavailable
	}
	if err := ValidateSubmission(sub, catalog); err != nil {
		return nil, err
	}

	inspectorId, _ := utils.GetActorIdFromContext(ctx)
	inspectorName, _ := utils.GetActorNameFromContext(ctx)

	result := &SubmitInspectionResult{
		OperatingDate: operatingDate,
		ShiftCode:     shift,
		Cadences:      cadences,
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot := &models.InspectionSlot{
			MachineId:     sub.MachineId,
			OperatingDate: operatingDate,
			ShiftCode:     shift,
		}
		claimed, err := models.TryClaimInspectionSlot(tx, slot)
		if err != nil {
			return err
		}
		if !claimed {
			return utils.ErrAlreadyInspected
		}

		record := &models.InspectionRecord{
			RecordNumber:  uuid.NewString(),
			MachineId:     sub.MachineId,
			Kind:          sub.Kind,
			OperatingDate: operatingDate,
			ShiftCode:     shift,
			OverallResult: sub.OverallResult,
			Cadences:      cadences,
			InspectorId:   inspectorId,
			InspectorName: inspectorName,
		}
		byId := make(map[int]*models.ChecklistItem, len(catalog))
		for i := range catalog {
			byId[catalog[i].ID] = &catalog[i]
		}
		for _, item := range sub.Items {
			entry := byId[item.ChecklistItemId]
			measured := decimal.NullDecimal{}
			if item.MeasuredValue != nil {
				measured = decimal.NullDecimal{Decimal: *item.MeasuredValue, Valid: true}
			}
			record.Items = append(record.Items, models.InspectionItemResult{
				ChecklistItemId: item.ChecklistItemId,
				ItemName:        entry.Name,
				Cadences:        entry.Cadences,
				Result:          item.Result,
				IssueText:       item.IssueText,
				RequiresImage:   entry.RequiresImage,
				ImageId:         item.ImageId,
				MeasuredValue:   measured,
			})
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		if err := tx.Model(slot).Update("inspection_record_id", record.ID).Error; err != nil {
			return err
		}
		result.RecordNumber = record.RecordNumber
		result.RecordId = record.ID

		if sub.Kind == models.InspectionKindSafetyCheck {
			if err := applySafetyResult(ctx, tx, machine, sub.OverallResult); err != nil {
				return err
			}
		}

		if sub.OverallResult == models.OverallResultIdle && machine.OperationalStatus == models.MachineStatusRunning {
			from, to, err := applyStatusTransition(tx, machine, ActionMarkIdle)
			if err != nil {
				return err
			}
			if err := models.AppendMachineEvent(ctx, tx, machine.ID, models.MachineEventActionStatusChanged, string(from), string(to), nil); err != nil {
				return err
			}
		}
		result.MachineStatus = machine.OperationalStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidateDashboardCache()
	return result, nil
}

// applySafetyResult flips the machine's safety flag off a safety-check
// submission. An idle overall result marks the flag idle, anything else
// clears it back to ok.
func applySafetyResult(ctx context.Context, tx *gorm.DB, machine *models.Machine, overall models.OverallResult) error {
	target := models.SafetyStatusOk
	if overall == models.OverallResultIdle {
		target = models.SafetyStatusIdle
	}
	if machine.SafetyStatus == target {
		return nil
	}
	if err := tx.Model(machine).Update("safety_status", target).Error; err != nil {
		return err
	}
	from := machine.SafetyStatus
	machine.SafetyStatus = target
	return models.AppendMachineEvent(ctx, tx, machine.ID, models.MachineEventActionSafetyChanged, string(from), string(target), nil)
}
