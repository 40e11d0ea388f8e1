package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/record"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/resilience"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/schema"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/store"
	"google.golang.org/api/googleapi"
)

var testTasks = []record.Task{
	{Name: "Indexing", PerItemSeconds: 120, Position: 0},
	{Name: "Scanning", PerItemSeconds: 60, Position: 1},
	{Name: "Other Work", Position: 2, Freeform: true},
}

func newTestLedger() (*Ledger, *store.MemoryStore) {
	st := store.NewMemoryStore()
	l := New(st, testTasks, Options{
		CacheTTL: time.Minute,
		Retry:    resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
	return l, st
}

var (
	day      = time.Date(2024, 3, 15, 0, 0, 0, 0, time.Local)
	nineAM   = day.Add(9 * time.Hour)
	fivePM   = day.Add(17 * time.Hour)
	twoPM    = day.Add(14 * time.Hour)
	dateText = "15/03/2024"
)

func TestActiveTaskIdleIsCached(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	active, err := l.ActiveTask(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("ActiveTask failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected idle, got %+v", active)
	}

	reads := st.Reads()
	active, err = l.ActiveTask(ctx, "Jane Doe")
	if err != nil || active != nil {
		t.Fatalf("second ActiveTask = (%+v, %v)", active, err)
	}
	if st.Reads() != reads {
		t.Errorf("expected cached idle without a second store read; reads went %d -> %d", reads, st.Reads())
	}
}

func TestStartTaskRoundTrip(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	active, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 30, nineAM, "batch 7")
	if err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if active.Task != "Indexing" || active.Label != "PortalA" || active.Quantity != 30 {
		t.Errorf("unexpected active task: %+v", active)
	}
	if active.StartText != "09:00 AM" || active.Date != dateText {
		t.Errorf("unexpected start/date: %+v", active)
	}

	// The derived state after a fresh lookup matches the submission.
	derived, err := l.ActiveTask(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("ActiveTask failed: %v", err)
	}
	if derived == nil || derived.Task != "Indexing" || derived.Label != "PortalA" ||
		derived.Quantity != 30 || derived.StartText != "09:00 AM" {
		t.Errorf("derived state does not match submission: %+v", derived)
	}
}

func TestStartTaskConflictPerformsNoWrite(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	if _, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 30, nineAM, ""); err != nil {
		t.Fatalf("first StartTask failed: %v", err)
	}

	writes := st.Writes()
	_, err := l.StartTask(ctx, "Jane Doe", "Scanning", "PortalB", 10, twoPM, "")
	if !errors.Is(err, ErrActiveTaskExists) {
		t.Fatalf("expected ErrActiveTaskExists, got %v", err)
	}
	if !IsConflict(err) {
		t.Error("conflict error not classified as conflict")
	}
	if st.Writes() != writes {
		t.Errorf("conflicting start performed writes: %d -> %d", writes, st.Writes())
	}
}

func TestEndTaskWithoutActive(t *testing.T) {
	l, _ := newTestLedger()

	_, err := l.EndTask(context.Background(), "Jane Doe", fivePM, "")
	if !errors.Is(err, ErrNoActiveTask) {
		t.Fatalf("expected ErrNoActiveTask, got %v", err)
	}
}

func TestStartEndLifecycle(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	if _, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 30, nineAM, "batch 7"); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	rec, err := l.EndTask(ctx, "Jane Doe", fivePM, "all done")
	if err != nil {
		t.Fatalf("EndTask failed: %v", err)
	}
	if rec.Duration != 28800 {
		t.Errorf("duration = %d, want 28800", rec.Duration)
	}
	if rec.ActualEnd != "05:00 PM" || rec.FinalRemark != "all done" {
		t.Errorf("unexpected record: %+v", rec)
	}

	active, err := l.ActiveTask(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("ActiveTask failed: %v", err)
	}
	if active != nil {
		t.Errorf("expected idle after end, got %+v", active)
	}

	// End time and final remark landed in the sheet itself.
	grid := st.Rows("Jane Doe")
	row := grid[schema.DataStartRow]
	base := schema.BlockStart(0)
	if row[base+schema.OffsetActualEnd] != "05:00 PM" {
		t.Errorf("end cell = %q, want 05:00 PM", row[base+schema.OffsetActualEnd])
	}
	if row[base+schema.OffsetFinalRemark] != "all done" {
		t.Errorf("final remark cell = %q", row[base+schema.OffsetFinalRemark])
	}
}

func TestSameDaySecondTaskReusesRow(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	if _, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 30, nineAM, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if _, err := l.EndTask(ctx, "Jane Doe", twoPM, ""); err != nil {
		t.Fatalf("EndTask failed: %v", err)
	}
	if _, err := l.StartTask(ctx, "Jane Doe", "Scanning", "PortalB", 10, twoPM, ""); err != nil {
		t.Fatalf("second StartTask failed: %v", err)
	}

	grid := st.Rows("Jane Doe")
	if len(grid) != schema.DataStartRow+1 {
		t.Fatalf("expected one data row, grid has %d rows", len(grid))
	}
	row := grid[schema.DataStartRow]
	if row[schema.DateColumn] != dateText {
		t.Errorf("date cell = %q", row[schema.DateColumn])
	}
	scanBase := schema.BlockStart(1)
	if row[scanBase+schema.OffsetLabel] != "PortalB" || row[scanBase+schema.OffsetStart] != "02:00 PM" {
		t.Errorf("scanning block not placed in the shared row: %v", row)
	}
}

func TestEndTaskRowEditedOutOfBand(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	if _, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 30, nineAM, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	// Someone edits the start time cell directly in the sheet.
	base := schema.BlockStart(0)
	err := st.BatchWriteCells(ctx, "Jane Doe", []store.Cell{
		{Address: schema.CellAddress(schema.DataStartRow, base+schema.OffsetStart), Value: "08:45 AM"},
	})
	if err != nil {
		t.Fatalf("tamper write failed: %v", err)
	}

	_, err = l.EndTask(ctx, "Jane Doe", fivePM, "")
	if !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("expected ErrRowNotFound, got %v", err)
	}
}

func TestFirstOpenBlockWinsTieBreak(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	// Two open blocks in one row, plus another in a later row: only
	// out-of-band edits can produce this. Row order, then ordinal order.
	if err := st.CreateSheet(ctx, "Jane Doe"); err != nil {
		t.Fatal(err)
	}
	row1 := make([]string, schema.BlockStart(2)+schema.BlockWidth)
	row1[schema.DateColumn] = dateText
	scanBase := schema.BlockStart(1)
	row1[scanBase+schema.OffsetLabel] = "PortalB"
	row1[scanBase+schema.OffsetQuantity] = "10"
	row1[scanBase+schema.OffsetStart] = "10:00 AM"
	otherBase := schema.BlockStart(2)
	row1[otherBase+schema.OffsetLabel] = "filing"
	row1[otherBase+schema.OffsetStart] = "09:00 AM"
	if err := st.WriteRow(ctx, "Jane Doe", schema.DataStartRow, row1); err != nil {
		t.Fatal(err)
	}
	row2 := make([]string, schema.BlockStart(0)+schema.BlockWidth)
	row2[schema.DateColumn] = "16/03/2024"
	idxBase := schema.BlockStart(0)
	row2[idxBase+schema.OffsetLabel] = "PortalA"
	row2[idxBase+schema.OffsetStart] = "08:00 AM"
	if err := st.WriteRow(ctx, "Jane Doe", schema.DataStartRow+1, row2); err != nil {
		t.Fatal(err)
	}

	active, err := l.ActiveTask(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("ActiveTask failed: %v", err)
	}
	if active == nil {
		t.Fatal("expected an active task")
	}
	if active.Task != "Scanning" || active.StartText != "10:00 AM" {
		t.Errorf("tie-break picked %+v, want the Scanning block of the first row", active)
	}
}

func TestStartTaskValidation(t *testing.T) {
	l, st := newTestLedger()

	_, err := l.StartTask(context.Background(), "", "Filing", "x", -1, nineAM, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 3 {
		t.Errorf("expected 3 problems, got %v", verr.Problems)
	}
	if st.Reads() != 0 || st.Writes() != 0 {
		t.Error("validation failure touched the store")
	}
}

func TestStartTaskRetriesTransientFailures(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	st.FailNext(2, &googleapi.Error{Code: 503, Message: "backend error"})
	active, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 5, nineAM, "")
	if err != nil {
		t.Fatalf("StartTask should have retried through the failures: %v", err)
	}
	if active == nil || active.Task != "Indexing" {
		t.Errorf("unexpected active task: %+v", active)
	}
}

func TestEndTaskStoreFailureLeavesStateActive(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	if _, err := l.StartTask(ctx, "Jane Doe", "Indexing", "PortalA", 5, nineAM, ""); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	// Terminal failures for the whole end attempt.
	st.FailNext(4, &googleapi.Error{Code: 403, Message: "forbidden"})
	if _, err := l.EndTask(ctx, "Jane Doe", fivePM, ""); err == nil {
		t.Fatal("expected EndTask to fail")
	}
	st.FailNext(0, nil)

	active, err := l.ActiveTask(ctx, "Jane Doe")
	if err != nil {
		t.Fatalf("ActiveTask failed: %v", err)
	}
	if active == nil {
		t.Error("state should remain Active after a failed end write")
	}
}

func TestFreeformStartWithZeroQuantity(t *testing.T) {
	l, st := newTestLedger()
	ctx := context.Background()

	active, err := l.StartTask(ctx, "Jane Doe", "Other Work", "filing backlog", 0, twoPM, "")
	if err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if active.Quantity != 0 {
		t.Errorf("quantity = %d, want 0", active.Quantity)
	}

	grid := st.Rows("Jane Doe")
	row := grid[schema.DataStartRow]
	base := schema.BlockStart(2)
	if row[base+schema.OffsetEstimatedEnd] != "" {
		t.Errorf("freeform start wrote an estimated end: %q", row[base+schema.OffsetEstimatedEnd])
	}
}
