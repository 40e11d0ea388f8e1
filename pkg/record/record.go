// Package record encodes and decodes task events against the fixed 8-column
// ledger layout. Rows coming back from the remote store are human-edited and
// ragged; decoding treats missing trailing cells as empty strings and never
// panics on malformed values.
package record

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/schema"
	"github.com/charmbracelet/log"
)

// Task is the static definition of one trackable task type.
type Task struct {
	Name           string `json:"name"`
	PerItemSeconds int    `json:"per_item_seconds"`
	Position       int    `json:"position"`
	Freeform       bool   `json:"freeform"`
}

// TaskRecord is one decoded task block: a single task event on a single
// date. Open records have no actual end time yet.
type TaskRecord struct {
	Date         time.Time // midday-normalized; zero if the date cell is bad
	DateText     string
	Task         string
	Label        string
	Quantity     int
	StartText    string
	StartMinutes int // minutes since midnight; -1 when the start is unparsable
	EstimatedEnd string
	ActualEnd    string
	Remark       string
	FinalRemark  string
	Duration     int // seconds; 0 for open or unparsable records
	RunRate      float64
	Open         bool
}

// Codec turns task events into ledger blocks and back.
type Codec struct {
	// DefaultDuration is the estimated length of a start with no quantity.
	DefaultDuration time.Duration
	Logger          *log.Logger
}

// NewCodec returns a Codec with the given default estimate duration.
func NewCodec(defaultDuration time.Duration, logger *log.Logger) *Codec {
	if logger == nil {
		logger = log.Default()
	}
	return &Codec{DefaultDuration: defaultDuration, Logger: logger}
}

var clockPattern = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*([AaPp][Mm])\s*$`)

// ParseClock parses a 12-hour "hh:mm AM/PM" value into minutes since
// midnight. The suffix is case-insensitive; 12 AM is midnight, 12 PM noon.
func ParseClock(s string) (int, error) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	if hour == 12 {
		hour = 0
	}
	if strings.EqualFold(m[3], "PM") {
		hour += 12
	}
	return hour*60 + minute, nil
}

// FormatClock renders minutes since midnight as "hh:mm AM/PM".
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	t := time.Date(2000, 1, 1, minutes/60, minutes%60, 0, 0, time.UTC)
	return t.Format(schema.ClockLayout)
}

// DurationSeconds computes the elapsed seconds between two clock values,
// wrapping across midnight when the end precedes the start.
func DurationSeconds(startMinutes, endMinutes int) int {
	d := endMinutes - startMinutes
	if d < 0 {
		d += 24 * 60
	}
	return d * 60
}

// ParseDate parses a DD/MM/YYYY ledger date, normalized to midday so that
// date-range comparisons are immune to DST and timezone boundary drift.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(schema.DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ledger date %q: %w", s, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.Local), nil
}

// FormatDate renders a time as a DD/MM/YYYY ledger date.
func FormatDate(t time.Time) string {
	return t.Format(schema.DateLayout)
}

// EncodeStart builds the 8-cell block written when a task starts. The
// estimated end is start + quantity*perItemSeconds when a quantity is given,
// start + DefaultDuration otherwise, and omitted entirely for the freeform
// task, which has no per-item target.
func (c *Codec) EncodeStart(task Task, label string, quantity int, start time.Time, remark string) []string {
	block := make([]string, schema.BlockWidth)
	block[schema.OffsetLabel] = label
	block[schema.OffsetQuantity] = strconv.Itoa(quantity)
	block[schema.OffsetStart] = start.Format(schema.ClockLayout)
	if !task.Freeform {
		estimate := c.DefaultDuration
		if quantity > 0 {
			estimate = time.Duration(quantity*task.PerItemSeconds) * time.Second
		}
		block[schema.OffsetEstimatedEnd] = start.Add(estimate).Format(schema.ClockLayout)
	}
	block[schema.OffsetRemark] = remark
	return block
}

// DecodeBlock decodes the block owned by task out of a full ledger row.
// It returns false when the block is empty, or when a non-freeform block has
// an unparsable start time. A freeform block with an unparsable start is
// surfaced as a zero-duration record so its label still appears in reports.
func (c *Codec) DecodeBlock(row []string, task Task) (TaskRecord, bool) {
	base := schema.BlockStart(task.Position)
	label := cell(row, base+schema.OffsetLabel)
	startText := cell(row, base+schema.OffsetStart)
	if label == "" && startText == "" {
		return TaskRecord{}, false
	}

	rec := TaskRecord{
		DateText:     cell(row, schema.DateColumn),
		Task:         task.Name,
		Label:        label,
		StartText:    startText,
		StartMinutes: -1,
		EstimatedEnd: cell(row, base+schema.OffsetEstimatedEnd),
		ActualEnd:    cell(row, base+schema.OffsetActualEnd),
		Remark:       cell(row, base+schema.OffsetRemark),
		FinalRemark:  cell(row, base+schema.OffsetFinalRemark),
	}
	if qty, err := strconv.Atoi(strings.TrimSpace(cell(row, base+schema.OffsetQuantity))); err == nil {
		rec.Quantity = qty
	}
	if date, err := ParseDate(rec.DateText); err == nil {
		rec.Date = date
	}

	startMinutes, startErr := ParseClock(startText)
	if startErr != nil {
		if !task.Freeform {
			return TaskRecord{}, false
		}
		// Freeform entries are time-tracked, not item-tracked; keep the
		// label visible even when the clock cell is garbage.
		rec.RunRate = RunRate(task, 0, rec.Quantity)
		return rec, true
	}
	rec.StartMinutes = startMinutes

	if rec.ActualEnd == "" {
		rec.Open = true
		return rec, true
	}

	endMinutes, endErr := ParseClock(rec.ActualEnd)
	if endErr != nil {
		// An end time exists but cannot be parsed. The record is kept as
		// completed with zero duration; the bad cell is logged rather than
		// guessed at.
		c.Logger.Warn("unparsable end time in ledger row",
			"task", task.Name, "date", rec.DateText, "end", rec.ActualEnd)
	} else {
		rec.Duration = DurationSeconds(startMinutes, endMinutes)
	}
	rec.RunRate = RunRate(task, rec.Duration, rec.Quantity)
	return rec, true
}

// RunRate applies the run-rate policy: seconds per item when items exist;
// with no items the freeform task reports its total duration and every
// other task reports zero.
func RunRate(task Task, durationSeconds, quantity int) float64 {
	if quantity > 0 {
		return float64(durationSeconds) / float64(quantity)
	}
	if task.Freeform {
		return float64(durationSeconds)
	}
	return 0
}

// cell reads a column from a possibly short row, treating anything past the
// end as an empty cell.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
