package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InspectionSlot is the ledger: one row per (machine, operating date, shift).
// The unique index is the sole arbiter of "already inspected"; claiming a slot
// is a single conditional insert, never a check-then-insert.
type InspectionSlot struct {
	ID                 int       `gorm:"primaryKey" json:"id"`
	MachineId          int       `gorm:"index:uniq_inspection_slot,unique" json:"machineId"`
	OperatingDate      time.Time `gorm:"type:date;index:uniq_inspection_slot,unique" json:"operatingDate"`
	ShiftCode          ShiftCode `gorm:"size:1;index:uniq_inspection_slot,unique" json:"shiftCode"`
	InspectionRecordId int       `json:"inspectionRecordId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// InspectionRecord is the immutable submission document behind a claimed slot.
type InspectionRecord struct {
	ID            int                    `gorm:"primaryKey" json:"id"`
	RecordNumber  string                 `gorm:"size:36;uniqueIndex" json:"recordNumber"`
	MachineId     int                    `gorm:"index" json:"machineId"`
	Kind          InspectionKind         `gorm:"size:20" json:"kind"`
	OperatingDate time.Time              `gorm:"type:date" json:"operatingDate"`
	ShiftCode     ShiftCode              `gorm:"size:1" json:"shiftCode"`
	OverallResult OverallResult          `gorm:"size:10" json:"overallResult"`
	Cadences      CadenceSet             `gorm:"size:100" json:"cadences"`
	InspectorId   int                    `json:"inspectorId"`
	InspectorName string                 `gorm:"size:100" json:"inspectorName"`
	Items         []InspectionItemResult `gorm:"foreignKey:InspectionRecordId" json:"items"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// InspectionItemResult snapshots the checklist item's name and cadences at
// submission time so later catalog edits never rewrite history.
type InspectionItemResult struct {
	ID                 int                 `gorm:"primaryKey" json:"id"`
	InspectionRecordId int                 `gorm:"index" json:"inspectionRecordId"`
	ChecklistItemId    int                 `json:"checklistItemId"`
	ItemName           string              `gorm:"size:255" json:"itemName"`
	Cadences           CadenceSet          `gorm:"size:100" json:"cadences"`
	Result             ItemResult          `gorm:"size:10" json:"result"`
	IssueText          string              `gorm:"type:text" json:"issueText"`
	RequiresImage      bool                `json:"requiresImage"`
	ImageId            string              `gorm:"size:100" json:"imageId"`
	MeasuredValue      decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"measuredValue"`
	CreatedAt          time.Time           `json:"createdAt"`
}

// MySQL duplicate entry. The unique slot index turns a lost race into this.
func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// TryClaimInspectionSlot inserts the slot row inside the caller's transaction.
// Exactly one of any number of concurrent claimants for the same slot wins;
// the rest get (false, nil).
func TryClaimInspectionSlot(tx *gorm.DB, slot *InspectionSlot) (bool, error) {
	err := tx.Create(slot).Error
	if err == nil {
		return true, nil
	}
	if isDuplicateKeyErr(err) {
		return false, nil
	}
	return false, err
}

// ReleaseInspectionSlot frees a claim whose record never got written, for
// callers that stage the record outside the claiming transaction and abandon
// it on timeout. Slots backed by a record are never released this way.
func ReleaseInspectionSlot(tx *gorm.DB, machineId int, operatingDate time.Time, shift ShiftCode) error {
	return tx.
		Where("machine_id = ? AND operating_date = ? AND shift_code = ? AND inspection_record_id = 0",
			machineId, operatingDate, shift).
		Delete(&InspectionSlot{}).Error
}

func GetInspectionSlot(tx *gorm.DB, machineId int, operatingDate time.Time, shift ShiftCode) (*InspectionSlot, error) {
	var slot InspectionSlot
	err := tx.
		Where("machine_id = ? AND operating_date = ? AND shift_code = ?", machineId, operatingDate, shift).
		First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func GetInspectionRecordById(tx *gorm.DB, id int) (*InspectionRecord, error) {
	var record InspectionRecord
	err := tx.Preload("Items").First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
