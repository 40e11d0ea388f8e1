// Package ledger is the task-lifecycle state machine on top of the sheet
// store. Each employee is either Idle or has exactly one open task block;
// that state is never stored directly, it is derived by scanning rows and
// cached briefly. The store has no transactions, so correctness comes from
// re-deriving before safety-critical decisions and from exact-match row
// location before writes.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/cache"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/record"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/resilience"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/schema"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/store"
	"github.com/charmbracelet/log"
)

// ActiveTask is the derived open block for an employee.
type ActiveTask struct {
	Employee     string
	Task         string
	Label        string
	Quantity     int
	Date         string // DD/MM/YYYY as written in the row
	StartText    string // hh:mm AM/PM as written in the row
	StartMinutes int
	Remark       string
}

// Options tunes a Ledger. The zero value gets sensible defaults.
type Options struct {
	DefaultDuration time.Duration // estimate for zero-quantity starts
	CacheTTL        time.Duration
	CacheSize       int
	Retry           resilience.Policy
	Logger          *log.Logger
}

// Ledger orchestrates task starts and ends against the sheet store.
type Ledger struct {
	store   store.Store
	codec   *record.Codec
	tasks   []record.Task
	cache   *cache.Cache[*ActiveTask]
	dedup   *resilience.Deduper
	retrier *resilience.Retrier
	logger  *log.Logger
}

// New builds a Ledger over the given store and task definitions.
func New(st store.Store, tasks []record.Task, opts Options) *Ledger {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = time.Hour
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultPolicy()
	}
	base := opts.Logger
	if base == nil {
		base = log.Default()
	}
	logger := base.With("component", "ledger")
	return &Ledger{
		store:   st,
		codec:   record.NewCodec(opts.DefaultDuration, logger),
		tasks:   tasks,
		cache:   cache.New[*ActiveTask](opts.CacheSize, opts.CacheTTL),
		dedup:   resilience.NewDeduper(),
		retrier: resilience.NewRetrier(opts.Retry, base),
		logger:  logger,
	}
}

// Tasks returns the configured task definitions in ordinal order.
func (l *Ledger) Tasks() []record.Task {
	return l.tasks
}

// Codec exposes the ledger's codec, shared with the report aggregator so
// both sides apply identical decode rules.
func (l *Ledger) Codec() *record.Codec {
	return l.codec
}

func (l *Ledger) taskByName(name string) (record.Task, bool) {
	for _, t := range l.tasks {
		if t.Name == name {
			return t, true
		}
	}
	return record.Task{}, false
}

func dedupKey(sheetName string) string {
	return "active:" + sheetName
}

// ActiveTask returns the employee's open task, or nil when the employee is
// idle. Results, including absence, are cached for a few seconds, and
// concurrent lookups for the same employee share one remote scan.
func (l *Ledger) ActiveTask(ctx context.Context, employee string) (*ActiveTask, error) {
	name := schema.SanitizeSheetName(employee)
	if name == "" {
		return nil, validation("employee name is required")
	}
	if active, ok := l.cache.Get(name); ok {
		return active, nil
	}
	return l.deriveActive(ctx, name, employee)
}

// deriveActive performs the de-duplicated remote scan and refreshes the
// cache with whatever it finds.
func (l *Ledger) deriveActive(ctx context.Context, sheetName, employee string) (*ActiveTask, error) {
	v, _, err := l.dedup.Do(dedupKey(sheetName), func() (interface{}, error) {
		active, err := l.scanActive(ctx, sheetName, employee)
		if err != nil {
			return nil, err
		}
		l.cache.Set(sheetName, active)
		return active, nil
	})
	if err != nil {
		l.logger.Error("active task lookup failed", "employee", employee, "error", err)
		return nil, storeFailure("active task lookup", employee, err)
	}
	return v.(*ActiveTask), nil
}

// scanActive reads every data row and returns the first open block in row
// order, then task-ordinal order. Multiple simultaneously open blocks can
// only come from out-of-band edits; first match wins.
func (l *Ledger) scanActive(ctx context.Context, sheetName, employee string) (*ActiveTask, error) {
	var exists bool
	err := l.retrier.Do(ctx, "sheetExists", func(ctx context.Context) error {
		var err error
		exists, err = l.store.SheetExists(ctx, sheetName)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := l.readRows(ctx, sheetName)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for _, task := range l.tasks {
			rec, ok := l.codec.DecodeBlock(row, task)
			if !ok || !rec.Open {
				continue
			}
			return &ActiveTask{
				Employee:     employee,
				Task:         rec.Task,
				Label:        rec.Label,
				Quantity:     rec.Quantity,
				Date:         rec.DateText,
				StartText:    rec.StartText,
				StartMinutes: rec.StartMinutes,
				Remark:       rec.Remark,
			}, nil
		}
	}
	return nil, nil
}

// StartTask opens a task block for the employee at the given start time.
// It refuses while another task is open; a cached Active state is trusted
// for the rejection, but a cached Idle never authorizes a start, a fresh
// remote derivation does.
func (l *Ledger) StartTask(ctx context.Context, employee, taskName, label string, quantity int, start time.Time, remark string) (*ActiveTask, error) {
	name := schema.SanitizeSheetName(employee)
	var problems []string
	if name == "" {
		problems = append(problems, "employee name is required")
	}
	task, known := l.taskByName(taskName)
	if !known {
		problems = append(problems, fmt.Sprintf("unknown task %q", taskName))
	}
	if label == "" {
		problems = append(problems, "label is required")
	}
	if quantity < 0 {
		problems = append(problems, "quantity cannot be negative")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	if cached, ok := l.cache.Get(name); ok && cached != nil {
		return nil, fmt.Errorf("%w: %s since %s", ErrActiveTaskExists, cached.Task, cached.StartText)
	}
	l.cache.Invalidate(name)
	l.dedup.Forget(dedupKey(name))
	active, err := l.deriveActive(ctx, name, employee)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: %s since %s", ErrActiveTaskExists, active.Task, active.StartText)
	}

	if err := l.ensureSheet(ctx, name); err != nil {
		l.logger.Error("sheet setup failed", "employee", employee, "error", err)
		return nil, storeFailure("sheet setup", employee, err)
	}

	if err := l.writeStart(ctx, name, task, label, quantity, start, remark); err != nil {
		l.logger.Error("start write failed", "employee", employee, "task", taskName, "error", err)
		return nil, storeFailure("start task", employee, err)
	}

	// The write may have raced another reader; re-derive so the caller and
	// the cache both see what the sheet actually says now.
	l.cache.Invalidate(name)
	l.dedup.Forget(dedupKey(name))
	fresh, err := l.deriveActive(ctx, name, employee)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		// The sheet no longer shows the block we just wrote. Report what
		// was submitted; the next lookup re-derives anyway.
		fresh = &ActiveTask{
			Employee:     employee,
			Task:         task.Name,
			Label:        label,
			Quantity:     quantity,
			Date:         record.FormatDate(start),
			StartText:    start.Format(schema.ClockLayout),
			StartMinutes: start.Hour()*60 + start.Minute(),
			Remark:       remark,
		}
	}
	l.logger.Info("task started", "employee", employee, "task", taskName, "label", label, "qty", quantity)
	return fresh, nil
}

// EndTask closes the employee's open task at the given end time. The row is
// re-located by date, label and start time so an out-of-band edit cannot
// cause an unrelated row to be clobbered.
func (l *Ledger) EndTask(ctx context.Context, employee string, end time.Time, finalRemark string) (*record.TaskRecord, error) {
	name := schema.SanitizeSheetName(employee)
	if name == "" {
		return nil, validation("employee name is required")
	}

	active, err := l.ActiveTask(ctx, employee)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNoActiveTask
	}
	task, known := l.taskByName(active.Task)
	if !known {
		return nil, validation(fmt.Sprintf("active task %q is no longer configured", active.Task))
	}

	rows, err := l.readRows(ctx, name)
	if err != nil {
		l.logger.Error("end lookup failed", "employee", employee, "error", err)
		return nil, storeFailure("end task", employee, err)
	}
	rowIndex := locateOpenRow(rows, task, active)
	if rowIndex < 0 {
		l.logger.Warn("open row vanished before end write", "employee", employee, "task", active.Task, "date", active.Date)
		return nil, fmt.Errorf("%w: %s on %s", ErrRowNotFound, active.Task, active.Date)
	}

	base := schema.BlockStart(task.Position)
	endText := end.Format(schema.ClockLayout)
	cells := []store.Cell{
		{Address: schema.CellAddress(rowIndex, base+schema.OffsetActualEnd), Value: endText},
	}
	if finalRemark != "" {
		cells = append(cells, store.Cell{
			Address: schema.CellAddress(rowIndex, base+schema.OffsetFinalRemark),
			Value:   finalRemark,
		})
	}
	err = l.retrier.Do(ctx, "batchWriteCells", func(ctx context.Context) error {
		return l.store.BatchWriteCells(ctx, name, cells)
	})
	if err != nil {
		// State stays Active; the caller may retry the end.
		l.logger.Error("end write failed", "employee", employee, "task", active.Task, "error", err)
		return nil, storeFailure("end task", employee, err)
	}

	l.cache.Invalidate(name)
	l.dedup.Forget(dedupKey(name))

	endMinutes, _ := record.ParseClock(endText)
	duration := record.DurationSeconds(active.StartMinutes, endMinutes)
	l.logger.Info("task ended", "employee", employee, "task", active.Task, "duration_s", duration)
	return &record.TaskRecord{
		DateText:     active.Date,
		Task:         active.Task,
		Label:        active.Label,
		Quantity:     active.Quantity,
		StartText:    active.StartText,
		StartMinutes: active.StartMinutes,
		ActualEnd:    endText,
		Remark:       active.Remark,
		FinalRemark:  finalRemark,
		Duration:     duration,
		RunRate:      record.RunRate(task, duration, active.Quantity),
	}, nil
}

// ensureSheet makes the employee tab usable: created if absent, header
// reconciled to the configured task layout. Losing a create race to another
// writer is fine; the store treats it as already done.
func (l *Ledger) ensureSheet(ctx context.Context, sheetName string) error {
	var exists bool
	err := l.retrier.Do(ctx, "sheetExists", func(ctx context.Context) error {
		var err error
		exists, err = l.store.SheetExists(ctx, sheetName)
		return err
	})
	if err != nil {
		return err
	}
	if !exists {
		err = l.retrier.Do(ctx, "createSheet", func(ctx context.Context) error {
			return l.store.CreateSheet(ctx, sheetName)
		})
		if err != nil {
			return err
		}
		l.logger.Info("created employee sheet", "sheet", sheetName)
	}
	return l.reconcileHeader(ctx, sheetName)
}

// reconcileHeader rewrites row 1 only when its labels differ from the
// configured layout.
func (l *Ledger) reconcileHeader(ctx context.Context, sheetName string) error {
	names := make([]string, len(l.tasks))
	for i, t := range l.tasks {
		names[i] = t.Name
	}
	want := schema.HeaderLabels(names)

	var have []string
	err := l.retrier.Do(ctx, "headerRow", func(ctx context.Context) error {
		var err error
		have, err = l.store.HeaderRow(ctx, sheetName)
		return err
	})
	if err != nil {
		return err
	}
	if headerMatches(have, want) {
		return nil
	}
	return l.retrier.Do(ctx, "writeHeaderRow", func(ctx context.Context) error {
		return l.store.WriteHeaderRow(ctx, sheetName, want)
	})
}

func headerMatches(have, want []string) bool {
	for i, w := range want {
		var h string
		if i < len(have) {
			h = have[i]
		}
		if h != w {
			return false
		}
	}
	return true
}

// writeStart resolves the target row and writes the encoded block. A row is
// reused when its date matches and the task's block is untouched; otherwise
// a new row is appended after the existing data.
func (l *Ledger) writeStart(ctx context.Context, sheetName string, task record.Task, label string, quantity int, start time.Time, remark string) error {
	rows, err := l.readRows(ctx, sheetName)
	if err != nil {
		return err
	}

	dateText := record.FormatDate(start)
	base := schema.BlockStart(task.Position)
	block := l.codec.EncodeStart(task, label, quantity, start, remark)

	rowIndex := -1
	for i, row := range rows {
		if cellAt(row, schema.DateColumn) == dateText &&
			cellAt(row, base+schema.OffsetLabel) == "" &&
			cellAt(row, base+schema.OffsetStart) == "" {
			rowIndex = schema.DataStartRow + i
			break
		}
	}

	if rowIndex < 0 {
		// Fresh row: date plus the block, padded out to the block's columns.
		rowIndex = schema.DataStartRow + len(rows)
		values := make([]string, base+schema.BlockWidth)
		values[schema.DateColumn] = dateText
		copy(values[base:], block)
		return l.retrier.Do(ctx, "writeRow", func(ctx context.Context) error {
			return l.store.WriteRow(ctx, sheetName, rowIndex, values)
		})
	}

	cells := make([]store.Cell, 0, schema.BlockWidth)
	for off, v := range block {
		cells = append(cells, store.Cell{
			Address: schema.CellAddress(rowIndex, base+off),
			Value:   v,
		})
	}
	return l.retrier.Do(ctx, "batchWriteCells", func(ctx context.Context) error {
		return l.store.BatchWriteCells(ctx, sheetName, cells)
	})
}

// locateOpenRow finds the exact sheet row holding the active block: same
// date, same label, same start time, end still empty.
func locateOpenRow(rows [][]string, task record.Task, active *ActiveTask) int {
	base := schema.BlockStart(task.Position)
	for i, row := range rows {
		if cellAt(row, schema.DateColumn) != active.Date {
			continue
		}
		if cellAt(row, base+schema.OffsetLabel) != active.Label {
			continue
		}
		if cellAt(row, base+schema.OffsetStart) != active.StartText {
			continue
		}
		if cellAt(row, base+schema.OffsetActualEnd) != "" {
			continue
		}
		return schema.DataStartRow + i
	}
	return -1
}

func (l *Ledger) readRows(ctx context.Context, sheetName string) ([][]string, error) {
	var rows [][]string
	err := l.retrier.Do(ctx, "readRows", func(ctx context.Context) error {
		var err error
		rows, err = l.store.ReadRows(ctx, sheetName)
		return err
	})
	return rows, err
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
