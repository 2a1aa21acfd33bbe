package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/factoryops_backend/config"
	"bitbucket.org/mmdatafocus/factoryops_backend/models"
	"bitbucket.org/mmdatafocus/factoryops_backend/utils"
	"bitbucket.org/mmdatafocus/factoryops_backend/workflow"
	"gorm.io/gorm"
)

func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factoryops_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetActorIdInContext(ctx, 1)
	ctx = utils.SetActorNameInContext(ctx, "Test Operator")
	ctx = utils.SetActorRoleInContext(ctx, string(models.ActorRoleOperator))
	return ctx
}

func asRole(ctx context.Context, id int, name string, role models.ActorRole) context.Context {
	ctx = utils.SetActorIdInContext(ctx, id)
	ctx = utils.SetActorNameInContext(ctx, name)
	return utils.SetActorRoleInContext(ctx, string(role))
}

func TestDowntimeLifecycle(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{Name: "Press 77", Number: "PR-077", Model: "HP-200"}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}

	// Operator reports downtime.
	report, err := workflow.ReportDowntime(ctx, &workflow.ReportDowntimeInput{
		MachineId:   machine.ID,
		ProblemType: models.ProblemTypeMechanical,
		Description: "Ram jammed mid-stroke",
	})
	if err != nil {
		t.Fatalf("ReportDowntime: %v", err)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusActive)

	// A second report while down must be rejected.
	_, err = workflow.ReportDowntime(ctx, &workflow.ReportDowntimeInput{
		MachineId:   machine.ID,
		ProblemType: models.ProblemTypeMechanical,
		Description: "duplicate",
	})
	if !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("second report: got %v, want invalid transition", err)
	}

	// Operator cannot accept the repair.
	if _, err := workflow.AcceptDowntime(ctx, report.ID); !errors.Is(err, utils.ErrUnauthorized) {
		t.Fatalf("operator accept: got %v, want ErrUnauthorized", err)
	}

	techCtx := asRole(ctx, 2, "Test Technician", models.ActorRoleTechnician)
	report, err = workflow.AcceptDowntime(techCtx, report.ID)
	if err != nil {
		t.Fatalf("AcceptDowntime: %v", err)
	}
	if report.TechnicianId == nil || *report.TechnicianId != 2 {
		t.Fatalf("technician not assigned: %+v", report)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusMaintenance)

	report, err = workflow.ResolveDowntime(techCtx, report.ID, &workflow.ResolveDowntimeInput{
		ResolutionDescription: "Replaced sheared guide pin",
	})
	if err != nil {
		t.Fatalf("ResolveDowntime: %v", err)
	}
	if report.ResolvedAt == nil {
		t.Fatalf("resolved_at not set")
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusWaitingLeaderApproval)

	// Technician cannot approve.
	if _, err := workflow.ApproveDowntime(techCtx, report.ID); !errors.Is(err, utils.ErrUnauthorized) {
		t.Fatalf("technician approve: got %v, want ErrUnauthorized", err)
	}

	leaderCtx := asRole(ctx, 3, "Test Leader", models.ActorRoleLeader)

	// Leader returns it for rework first.
	report, err = workflow.ReturnDowntime(leaderCtx, report.ID, &workflow.ReturnDowntimeInput{
		ReturnReason: "Resolution does not mention root cause",
	})
	if err != nil {
		t.Fatalf("ReturnDowntime: %v", err)
	}
	if report.TechnicianId != nil {
		t.Fatalf("technician assignment should be cleared on return: %+v", report)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusActive)

	// Second pass through repair and approval.
	report, err = workflow.AcceptDowntime(techCtx, report.ID)
	if err != nil {
		t.Fatalf("AcceptDowntime (second pass): %v", err)
	}
	report, err = workflow.ResolveDowntime(techCtx, report.ID, &workflow.ResolveDowntimeInput{
		ResolutionDescription: "Guide pin sheared by misaligned die; replaced pin and realigned die",
	})
	if err != nil {
		t.Fatalf("ResolveDowntime (second pass): %v", err)
	}
	report, err = workflow.ApproveDowntime(leaderCtx, report.ID)
	if err != nil {
		t.Fatalf("ApproveDowntime: %v", err)
	}
	if report.ApprovedAt == nil || report.ApproverName == nil {
		t.Fatalf("approval fields not set: %+v", report)
	}
	if report.TechnicianId == nil || report.ResolutionDescription == nil {
		t.Fatalf("history fields must survive approval: %+v", report)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusRunning)

	// Every transition left an outbox event.
	db := config.GetDB()
	var eventCount int64
	if err := db.Model(&models.MachineEventRecord{}).Where("machine_id = ?", machine.ID).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount < 6 {
		t.Fatalf("expected at least 6 outbox events, got %d", eventCount)
	}

	history, err := models.ListDowntimeReports(ctx, machine.ID)
	if err != nil {
		t.Fatalf("ListDowntimeReports: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
}

func TestClosedReportStaysClosed(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{Name: "Press 52", Number: "PR-052", Model: "HP-200"}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	techCtx := asRole(ctx, 2, "Test Technician", models.ActorRoleTechnician)
	leaderCtx := asRole(ctx, 3, "Test Leader", models.ActorRoleLeader)

	first, err := workflow.ReportDowntime(ctx, &workflow.ReportDowntimeInput{
		MachineId:   machine.ID,
		ProblemType: models.ProblemTypeElectrical,
		Description: "Servo drive fault",
	})
	if err != nil {
		t.Fatalf("ReportDowntime: %v", err)
	}
	if _, err := workflow.AcceptDowntime(techCtx, first.ID); err != nil {
		t.Fatalf("AcceptDowntime: %v", err)
	}
	if _, err := workflow.ResolveDowntime(techCtx, first.ID, &workflow.ResolveDowntimeInput{
		ResolutionDescription: "Replaced servo drive",
	}); err != nil {
		t.Fatalf("ResolveDowntime: %v", err)
	}
	first, err = workflow.ApproveDowntime(leaderCtx, first.ID)
	if err != nil {
		t.Fatalf("ApproveDowntime: %v", err)
	}

	second, err := workflow.ReportDowntime(ctx, &workflow.ReportDowntimeInput{
		MachineId:   machine.ID,
		ProblemType: models.ProblemTypeMechanical,
		Description: "Ram jammed mid-stroke",
	})
	if err != nil {
		t.Fatalf("ReportDowntime (second): %v", err)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusActive)

	// Acting on the approved report must not reopen it, even though the
	// machine is in a state the accept action could move.
	if _, err := workflow.AcceptDowntime(techCtx, first.ID); !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("accept on closed report: got %v, want invalid transition", err)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusActive)

	closed, err := models.GetDowntimeReportById(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetDowntimeReportById: %v", err)
	}
	if closed.Status != models.MachineStatusRunning || closed.ApprovedAt == nil {
		t.Fatalf("closed report mutated: %+v", closed)
	}

	// The open report is untouched and still serviceable.
	if _, err := workflow.AcceptDowntime(techCtx, second.ID); err != nil {
		t.Fatalf("AcceptDowntime (open report): %v", err)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusMaintenance)
}

func TestHoldSnapshotRoundTrip(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{
		Name: "Lathe 42", Number: "LT-042", Model: "CNC-L5",
		OperationalStatus: models.MachineStatusIdle,
	}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}

	held, err := workflow.RequestHold(ctx, machine.ID)
	if err != nil {
		t.Fatalf("RequestHold: %v", err)
	}
	if held.OperationalStatus != models.MachineStatusWaitingForCustomer {
		t.Fatalf("status after hold = %q", held.OperationalStatus)
	}
	if held.PreviousStatus == nil || *held.PreviousStatus != models.MachineStatusIdle {
		t.Fatalf("hold snapshot = %v, want idle", held.PreviousStatus)
	}

	released, err := workflow.CancelHold(ctx, machine.ID)
	if err != nil {
		t.Fatalf("CancelHold: %v", err)
	}
	if released.OperationalStatus != models.MachineStatusIdle {
		t.Fatalf("status after cancel = %q, want idle restored", released.OperationalStatus)
	}
	if released.PreviousStatus != nil {
		t.Fatalf("snapshot should be cleared after cancel, got %v", *released.PreviousStatus)
	}
}

func TestCancelHoldRejectsStaleSnapshot(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{
		Name: "Lathe 57", Number: "LT-057", Model: "CNC-L5",
		OperationalStatus: models.MachineStatusIdle,
	}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}

	if _, err := workflow.RequestHold(ctx, machine.ID); err != nil {
		t.Fatalf("RequestHold: %v", err)
	}

	// A writer reads the machine while the snapshot still says idle.
	stale, err := models.GetMachineById(ctx, machine.ID)
	if err != nil {
		t.Fatalf("GetMachineById: %v", err)
	}

	// Meanwhile the hold is cancelled and re-taken from running.
	if _, err := workflow.CancelHold(ctx, machine.ID); err != nil {
		t.Fatalf("CancelHold: %v", err)
	}
	db := config.GetDB()
	if err := db.Model(&models.Machine{}).Where("id = ?", machine.ID).
		Update("operational_status", models.MachineStatusRunning).Error; err != nil {
		t.Fatalf("set running: %v", err)
	}
	if _, err := workflow.RequestHold(ctx, machine.ID); err != nil {
		t.Fatalf("RequestHold (again): %v", err)
	}

	// The stale writer's cancel must not restore the old idle snapshot.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, _, err := workflow.ApplyStatusTransition(tx, stale, workflow.ActionCancelHold)
		return err
	})
	if !errors.Is(err, utils.ErrInvalidTransition) {
		t.Fatalf("stale cancel: got %v, want invalid transition", err)
	}
	fresh, err := models.GetMachineById(ctx, machine.ID)
	if err != nil {
		t.Fatalf("GetMachineById: %v", err)
	}
	if fresh.OperationalStatus != models.MachineStatusWaitingForCustomer {
		t.Fatalf("status after stale cancel = %q, want hold kept", fresh.OperationalStatus)
	}
	if fresh.PreviousStatus == nil || *fresh.PreviousStatus != models.MachineStatusRunning {
		t.Fatalf("snapshot after stale cancel = %v, want running", fresh.PreviousStatus)
	}

	// A fresh cancel restores the real snapshot.
	released, err := workflow.CancelHold(ctx, machine.ID)
	if err != nil {
		t.Fatalf("CancelHold (fresh): %v", err)
	}
	if released.OperationalStatus != models.MachineStatusRunning {
		t.Fatalf("status after fresh cancel = %q, want running", released.OperationalStatus)
	}
}

func TestConcurrentInspectionSlotClaim(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{Name: "Welder 9", Number: "WD-009", Model: "ARC-9"}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	item := &models.ChecklistItem{
		MachineModel: "ARC-9", Kind: models.InspectionKindDailyCheck,
		Name: "Inspect ground clamp", Cadences: models.NewCadenceSet(models.CadenceDaily),
		Position: 1, IsActive: true,
	}
	if err := models.CreateChecklistItem(ctx, item); err != nil {
		t.Fatalf("CreateChecklistItem: %v", err)
	}

	submittedAt := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	const claimants = 8
	var wg sync.WaitGroup
	results := make(chan error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := workflow.SubmitInspection(ctx, &workflow.InspectionSubmission{
				MachineId:     machine.ID,
				Kind:          models.InspectionKindDailyCheck,
				SubmittedAt:   submittedAt,
				OverallResult: models.OverallResultPass,
				Items: []workflow.ItemSubmission{
					{ChecklistItemId: item.ID, Result: models.ItemResultPass},
				},
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, utils.ErrAlreadyInspected):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one claimant must win, got %d wins / %d conflicts", wins, conflicts)
	}

	// The same machine can still be inspected on the other shift.
	nightAt := time.Date(2026, 2, 3, 19, 0, 0, 0, time.UTC)
	if _, err := workflow.SubmitInspection(ctx, &workflow.InspectionSubmission{
		MachineId:     machine.ID,
		Kind:          models.InspectionKindDailyCheck,
		SubmittedAt:   nightAt,
		OverallResult: models.OverallResultPass,
		Items: []workflow.ItemSubmission{
			{ChecklistItemId: item.ID, Result: models.ItemResultPass},
		},
	}); err != nil {
		t.Fatalf("night shift submission: %v", err)
	}
}

func TestReleaseAbandonedSlotAllowsRetry(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{Name: "Press 91", Number: "PR-091", Model: "HP-200"}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	item := &models.ChecklistItem{
		MachineModel: "HP-200", Kind: models.InspectionKindDailyCheck,
		Name: "Check hydraulic oil level", Cadences: models.NewCadenceSet(models.CadenceDaily),
		Position: 1, IsActive: true,
	}
	if err := models.CreateChecklistItem(ctx, item); err != nil {
		t.Fatalf("CreateChecklistItem: %v", err)
	}

	submittedAt := time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)
	shift, operatingDate := models.ResolveShift(submittedAt)
	db := config.GetDB()

	// Simulate an abandoned submission: claim taken, record never written.
	claimed, err := models.TryClaimInspectionSlot(db, &models.InspectionSlot{
		MachineId:     machine.ID,
		OperatingDate: operatingDate,
		ShiftCode:     shift,
	})
	if err != nil || !claimed {
		t.Fatalf("TryClaimInspectionSlot: claimed=%v err=%v", claimed, err)
	}

	// The shift is blocked until the dangling claim is released.
	_, err = workflow.SubmitInspection(ctx, &workflow.InspectionSubmission{
		MachineId:     machine.ID,
		Kind:          models.InspectionKindDailyCheck,
		SubmittedAt:   submittedAt,
		OverallResult: models.OverallResultPass,
		Items: []workflow.ItemSubmission{
			{ChecklistItemId: item.ID, Result: models.ItemResultPass},
		},
	})
	if !errors.Is(err, utils.ErrAlreadyInspected) {
		t.Fatalf("submit against dangling claim: got %v, want ErrAlreadyInspected", err)
	}

	if err := models.ReleaseInspectionSlot(db, machine.ID, operatingDate, shift); err != nil {
		t.Fatalf("ReleaseInspectionSlot: %v", err)
	}

	if _, err := workflow.SubmitInspection(ctx, &workflow.InspectionSubmission{
		MachineId:     machine.ID,
		Kind:          models.InspectionKindDailyCheck,
		SubmittedAt:   submittedAt,
		OverallResult: models.OverallResultPass,
		Items: []workflow.ItemSubmission{
			{ChecklistItemId: item.ID, Result: models.ItemResultPass},
		},
	}); err != nil {
		t.Fatalf("retry after release: %v", err)
	}

	// A released slot never takes a completed record with it.
	slot, err := models.GetInspectionSlot(db, machine.ID, operatingDate, shift)
	if err != nil {
		t.Fatalf("GetInspectionSlot: %v", err)
	}
	if slot == nil || slot.InspectionRecordId == 0 {
		t.Fatalf("expected a filled slot after retry, got %+v", slot)
	}
	if err := models.ReleaseInspectionSlot(db, machine.ID, operatingDate, shift); err != nil {
		t.Fatalf("ReleaseInspectionSlot (filled): %v", err)
	}
	slot, err = models.GetInspectionSlot(db, machine.ID, operatingDate, shift)
	if err != nil || slot == nil {
		t.Fatalf("filled slot must survive release attempts, got %+v err %v", slot, err)
	}
}

func TestIdleInspectionMarksMachineIdle(t *testing.T) {
	ctx := setupIntegration(t)

	machine := &models.Machine{Name: "Press 88", Number: "PR-088", Model: "HP-200"}
	if err := models.CreateMachine(ctx, machine); err != nil {
		t.Fatalf("CreateMachine: %v", err)
	}
	item := &models.ChecklistItem{
		MachineModel: "HP-200", Kind: models.InspectionKindDailyCheck,
		Name: "Check hydraulic oil level", Cadences: models.NewCadenceSet(models.CadenceDaily),
		Position: 1, IsActive: true,
	}
	if err := models.CreateChecklistItem(ctx, item); err != nil {
		t.Fatalf("CreateChecklistItem: %v", err)
	}

	result, err := workflow.SubmitInspection(ctx, &workflow.InspectionSubmission{
		MachineId:     machine.ID,
		Kind:          models.InspectionKindDailyCheck,
		SubmittedAt:   time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC),
		OverallResult: models.OverallResultIdle,
		Items: []workflow.ItemSubmission{
			{ChecklistItemId: item.ID, Result: models.ItemResultIdle},
		},
	})
	if err != nil {
		t.Fatalf("SubmitInspection: %v", err)
	}
	if result.MachineStatus != models.MachineStatusIdle {
		t.Fatalf("result status = %q, want idle", result.MachineStatus)
	}
	assertMachineStatus(t, ctx, machine.ID, models.MachineStatusIdle)
}

func assertMachineStatus(t *testing.T, ctx context.Context, machineId int, want models.MachineStatus) {
	t.Helper()
	machine, err := models.GetMachineById(ctx, machineId)
	if err != nil {
		t.Fatalf("GetMachineById: %v", err)
	}
	if machine.OperationalStatus != want {
		t.Fatalf("machine status = %q, want %q", machine.OperationalStatus, want)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factoryops-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factoryops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=factoryops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
