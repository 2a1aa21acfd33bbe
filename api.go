package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"bitbucket.org/mmdatafocus/factoryops_backend/workflow"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("factoryops-backend")

func registerRoutes(r *gin.Engine) {
	r.GET("/machines", listMachinesHandler())
	r.POST("/machines", createMachineHandler())
	r.GET("/machines/lookup", lookupMachineHandler())
	r.GET("/machines/:id", getMachineHandler())
	r.GET("/machines/:id/checklist", getChecklistHandler())
	r.GET("/machines/:id/downtime", listDowntimeHandler())
	r.GET("/machines/:id/downtime/open", openDowntimeHandler())
	r.POST("/machines/:id/hold", requestHoldHandler())
	r.POST("/machines/:id/hold/cancel", cancelHoldHandler())

	r.GET("/shift", resolveShiftHandler())
	r.GET("/frequencies", frequenciesHandler())

	r.POST("/checklist-items", createChecklistItemHandler())
	r.GET("/checklist-items", listChecklistItemsHandler())

	r.POST("/inspections", submitInspectionHandler())
	r.GET("/inspections/:id", getInspectionHandler())
	r.GET("/machines/:id/inspection-status", inspectionStatusHandler())

	r.POST("/downtime", reportDowntimeHandler())
	r.POST("/downtime/:id/accept", acceptDowntimeHandler())
	r.POST("/downtime/:id/resolve", resolveDowntimeHandler())
	r.POST("/downtime/:id/approve", approveDowntimeHandler())
	r.POST("/downtime/:id/return", returnDowntimeHandler())

	r.GET("/dashboard", dashboardHandler())
}

// respondError maps domain errors onto HTTP statuses. Storage failures stay
// distinct from conflicts so clients know whether to retry or refresh.
func respondError(c *gin.Context, err error) {
	var transitionErr *utils.InvalidTransitionError
	switch {
	case errors.Is(err, utils.ErrAlreadyInspected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrIncompleteSubmission):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":          transitionErr.Error(),
			"currentStatus":  transitionErr.Current,
			"requestedState": transitionErr.Requested,
		})
	case errors.Is(err, utils.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, utils.ErrStorageUnavailable):
		// Already logged with context at the failure site.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, please retry"})
	default:
		config.LogError(config.GetLogger(), "api", "respondError", "unhandled", c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, please retry"})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func listMachinesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		machines, err := models.ListMachines(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, machines)
	}
}

func createMachineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var machine models.Machine
		if err := c.ShouldBindJSON(&machine); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := models.CreateMachine(c.Request.Context(), &machine); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, machine)
	}
}

func lookupMachineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		machine, err := models.LookupMachine(c.Request.Context(), c.Query("q"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, machine)
	}
}

func getMachineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		machine, err := models.GetMachineById(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"machine":       machine,
			"displayStatus": machine.DisplayStatus(),
		})
	}
}

// getChecklistHandler returns the items due for a machine, kind and moment.
// The cadence set is derived from the operating date unless explicit cadence
// query flags are passed.
func getChecklistHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		kind := models.InspectionKind(c.DefaultQuery("kind", string(models.InspectionKindDailyCheck)))
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown inspection kind"})
			return
		}

		at := time.Now()
		if raw := c.Query("at"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "at must be RFC3339"})
				return
			}
			at = parsed
		}
		shift, operatingDate := models.ResolveShift(at)
		cadences := models.CadencesForDate(operatingDate)

		machine, err := models.GetMachineById(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		items, err := models.GetChecklistItems(c.Request.Context(), machine.Model, kind, cadences)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"machineId":     machine.ID,
			"operatingDate": operatingDate.Format("2006-01-02"),
			"shiftCode":     shift,
			"cadences":      cadences,
			"items":         items,
		})
	}
}

func createChecklistItemHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var item models.ChecklistItem
		if err := c.ShouldBindJSON(&item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if !item.Kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown inspection kind"})
			return
		}
		if item.Cadences.IsEmpty() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cadences must not be empty"})
			return
		}
		if err := models.CreateChecklistItem(c.Request.Context(), &item); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

func listChecklistItemsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		model := c.Query("model")
		if model == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
			return
		}
		items, err := models.ListChecklistItemsByModel(c.Request.Context(), model)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func resolveShiftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		at := time.Now()
		if raw := c.Query("at"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "at must be RFC3339"})
				return
			}
			at = parsed
		}
		shift, operatingDate := models.ResolveShift(at)
		c.JSON(http.StatusOK, gin.H{
			"shiftCode":     shift,
			"operatingDate": operatingDate.Format("2006-01-02"),
		})
	}
}

func frequenciesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var operatingDate time.Time
		if raw := c.Query("date"); raw != "" {
			// An explicit date is already an operating date.
			parsed, err := time.Parse("2006-01-02", raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			operatingDate = parsed
		} else {
			_, operatingDate = models.ResolveShift(time.Now())
		}
		cadences := models.CadencesForDate(operatingDate)
		c.JSON(http.StatusOK, gin.H{
			"date":     operatingDate.Format("2006-01-02"),
			"cadences": cadences,
		})
	}
}

func submitInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "SubmitInspection")
		defer span.End()

		var sub workflow.InspectionSubmission
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		span.SetAttributes(
			attribute.Int("machine_id", sub.MachineId),
			attribute.String("kind", string(sub.Kind)),
		)

		result, err := workflow.SubmitInspection(ctx, &sub)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func getInspectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		record, err := models.GetInspectionRecordById(config.GetDB().WithContext(c.Request.Context()), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// inspectionStatusHandler reports whether the machine's current shift slot is
// already claimed, so tablets can grey out the submit button up front.
func inspectionStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		shift, operatingDate := models.ResolveShift(time.Now())
		slot, err := models.GetInspectionSlot(config.GetDB().WithContext(c.Request.Context()), id, operatingDate, shift)
		if err != nil {
			respondError(c, err)
			return
		}
		resp := gin.H{
			"machineId":     id,
			"operatingDate": operatingDate.Format("2006-01-02"),
			"shiftCode":     shift,
			"inspected":     slot != nil,
		}
		if slot != nil {
			resp["inspectionRecordId"] = slot.InspectionRecordId
		}
		c.JSON(http.StatusOK, resp)
	}
}

func reportDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.ReportDowntimeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		report, err := workflow.ReportDowntime(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, report)
	}
}

func acceptDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		report, err := workflow.AcceptDowntime(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func resolveDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input workflow.ResolveDowntimeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolutionDescription is required"})
			return
		}
		report, err := workflow.ResolveDowntime(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func approveDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		report, err := workflow.ApproveDowntime(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func returnDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input workflow.ReturnDowntimeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "returnReason is required"})
			return
		}
		report, err := workflow.ReturnDowntime(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func requestHoldHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		machine, err := workflow.RequestHold(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, machine)
	}
}

func cancelHoldHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		machine, err := workflow.CancelHold(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, machine)
	}
}

func listDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		reports, err := models.ListDowntimeReports(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, reports)
	}
}

// openDowntimeHandler returns the machine's unapproved report so technician
// and leader screens can jump straight to the pending step.
func openDowntimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		report, err := models.GetOpenDowntimeReport(config.GetDB().WithContext(c.Request.Context()), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func dashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := workflow.DashboardView(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}
