// Package report derives per-employee efficiency statistics from raw ledger
// rows. Reports are computed on demand and never persisted; the rows in the
// remote sheet stay the single source of truth.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/record"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/resilience"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/schema"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/store"
	"github.com/charmbracelet/log"
)

// ErrNoRecords is returned when no ledger rows fall inside the requested
// date range, or the rows that do yield no usable records.
var ErrNoRecords = errors.New("no records in date range")

// TaskTotal aggregates one task type across the report window.
type TaskTotal struct {
	Task     string
	Quantity int
	Duration int // seconds
	RunRate  float64
}

// EmployeeReport is the aggregate view of one employee over a date range.
type EmployeeReport struct {
	Employee string
	From, To time.Time

	TotalWorkSeconds      int // every completed block
	ProductiveWorkSeconds int // blocks with billable output
	TotalItems            int
	AverageRunRate        float64 // productive seconds per item

	TaskTotals      []TaskTotal
	DetailedRecords []record.TaskRecord
}

// Aggregator scans an employee's sheet and folds rows into a report.
type Aggregator struct {
	store   store.Store
	codec   *record.Codec
	tasks   []record.Task
	retrier *resilience.Retrier
	logger  *log.Logger
}

// NewAggregator builds an Aggregator sharing the ledger's codec so decode
// rules stay identical on both paths.
func NewAggregator(st store.Store, tasks []record.Task, codec *record.Codec, retrier *resilience.Retrier, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{
		store:   st,
		codec:   codec,
		tasks:   tasks,
		retrier: retrier,
		logger:  logger.With("component", "report"),
	}
}

// GetReport aggregates the employee's records whose date falls inside
// [from, to], both inclusive. Dates compare at midday resolution. It returns
// ErrNoRecords when the window is empty.
func (a *Aggregator) GetReport(ctx context.Context, employee string, from, to time.Time) (*EmployeeReport, error) {
	sheetName := schema.SanitizeSheetName(employee)
	if sheetName == "" {
		return nil, fmt.Errorf("employee name is required")
	}

	var exists bool
	err := a.retrier.Do(ctx, "sheetExists", func(ctx context.Context) error {
		var err error
		exists, err = a.store.SheetExists(ctx, sheetName)
		return err
	})
	if err != nil {
		a.logger.Error("report lookup failed", "employee", employee, "error", err)
		return nil, fmt.Errorf("report for %q: %w", employee, err)
	}
	if !exists {
		return nil, ErrNoRecords
	}

	var rows [][]string
	err = a.retrier.Do(ctx, "readRows", func(ctx context.Context) error {
		var err error
		rows, err = a.store.ReadRows(ctx, sheetName)
		return err
	})
	if err != nil {
		a.logger.Error("report read failed", "employee", employee, "error", err)
		return nil, fmt.Errorf("report for %q: %w", employee, err)
	}

	fromDay := middayOf(from)
	toDay := middayOf(to)

	rep := &EmployeeReport{Employee: employee, From: fromDay, To: toDay}
	totals := make(map[string]*TaskTotal)
	matchedRows := 0

	for _, row := range rows {
		date, err := record.ParseDate(cellAt(row, schema.DateColumn))
		if err != nil || date.Before(fromDay) || date.After(toDay) {
			continue
		}
		matchedRows++

		for _, task := range a.tasks {
			rec, ok := a.codec.DecodeBlock(row, task)
			if !ok || rec.Open {
				continue
			}
			// Item-tracked tasks without items carry no signal; the
			// freeform task is time-tracked and always counts.
			if !task.Freeform && rec.Quantity <= 0 {
				continue
			}

			rep.TotalWorkSeconds += rec.Duration
			if !task.Freeform || rec.Quantity > 0 {
				rep.ProductiveWorkSeconds += rec.Duration
				rep.TotalItems += rec.Quantity
			}

			tt, ok := totals[task.Name]
			if !ok {
				tt = &TaskTotal{Task: task.Name}
				totals[task.Name] = tt
			}
			tt.Quantity += rec.Quantity
			tt.Duration += rec.Duration

			rep.DetailedRecords = append(rep.DetailedRecords, rec)
		}
	}

	if matchedRows == 0 || len(rep.DetailedRecords) == 0 {
		return nil, ErrNoRecords
	}

	for _, task := range a.tasks {
		tt, ok := totals[task.Name]
		if !ok {
			continue
		}
		tt.RunRate = record.RunRate(task, tt.Duration, tt.Quantity)
		rep.TaskTotals = append(rep.TaskTotals, *tt)
	}
	if rep.TotalItems > 0 {
		rep.AverageRunRate = float64(rep.ProductiveWorkSeconds) / float64(rep.TotalItems)
	}

	sort.SliceStable(rep.DetailedRecords, func(i, j int) bool {
		ri, rj := rep.DetailedRecords[i], rep.DetailedRecords[j]
		if !ri.Date.Equal(rj.Date) {
			return ri.Date.Before(rj.Date)
		}
		return ri.StartMinutes < rj.StartMinutes
	})

	a.logger.Debug("report assembled", "employee", employee,
		"records", len(rep.DetailedRecords), "items", rep.TotalItems)
	return rep, nil
}

func middayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.Local)
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
