package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/auth"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/config"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/ledger"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/record"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/report"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/resilience"
	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/store"
	charmLog "github.com/charmbracelet/log"
)

func main() {
	// 1. Parse Flags
	doAuth := flag.Bool("auth", false, "Authenticate with Google Sheets")
	setSpreadsheet := flag.String("set-spreadsheet", "", "Set the spreadsheet ID backing the ledger")
	employee := flag.String("employee", "", "Employee name (worksheet tab)")
	startTask := flag.String("start", "", "Start a task of the given type")
	label := flag.String("label", "", "Portal name, or description for freeform work")
	qty := flag.Int("qty", 0, "Item quantity for the started task")
	endTask := flag.Bool("end", false, "End the employee's active task")
	active := flag.Bool("active", false, "Show the employee's active task")
	remark := flag.String("remark", "", "Remark attached to the start or end")
	doReport := flag.Bool("report", false, "Print the employee's report")
	fromDate := flag.String("from", "", "Report start date (DD/MM/YYYY)")
	toDate := flag.String("to", "", "Report end date (DD/MM/YYYY)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logger := charmLog.NewWithOptions(os.Stderr, charmLog.Options{
		ReportTimestamp: true,
		Prefix:          "acpleff",
	})
	if *verbose {
		logger.SetLevel(charmLog.DebugLevel)
	}

	ctx := context.Background()

	// 2. Handle Set Spreadsheet
	if *setSpreadsheet != "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal("could not load config", "error", err)
		}
		cfg.SpreadsheetID = *setSpreadsheet
		if err := config.Save(cfg); err != nil {
			logger.Fatal("could not save config", "error", err)
		}
		fmt.Printf("Spreadsheet set to: %s\n", *setSpreadsheet)
		return
	}

	// 3. Handle Authentication
	if *doAuth {
		if _, err := auth.GetSheetsService(ctx); err != nil {
			logger.Fatal("authentication failed", "error", err)
		}
		fmt.Println("Authentication successful.")
		return
	}

	// 4. Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("could not load config", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("configuration error", "error", err)
	}

	if *employee == "" {
		fmt.Fprintln(os.Stderr, "an -employee is required; see -h for usage")
		os.Exit(2)
	}

	// 5. Wire the store, ledger and aggregator
	srv, err := auth.GetSheetsService(ctx)
	if err != nil {
		logger.Fatal("could not build Sheets client; run -auth first", "error", err)
	}
	st := store.NewSheetsStore(srv, cfg.SpreadsheetID, logger)

	retryPolicy := resilience.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMillis) * time.Millisecond,
		Timeout:     30 * time.Second,
	}
	led := ledger.New(st, cfg.Tasks, ledger.Options{
		DefaultDuration: time.Duration(cfg.DefaultDurationSeconds) * time.Second,
		CacheTTL:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		Retry:           retryPolicy,
		Logger:          logger,
	})

	// 6. Dispatch
	switch {
	case *startTask != "":
		activeTask, err := led.StartTask(ctx, *employee, *startTask, *label, *qty, time.Now(), *remark)
		if err != nil {
			fail(logger, err)
		}
		fmt.Printf("Started %s (%s, qty %d) for %s at %s\n",
			activeTask.Task, activeTask.Label, activeTask.Quantity, activeTask.Employee, activeTask.StartText)

	case *endTask:
		rec, err := led.EndTask(ctx, *employee, time.Now(), *remark)
		if err != nil {
			fail(logger, err)
		}
		fmt.Printf("Ended %s for %s: %s, run rate %.1f s/item\n",
			rec.Task, *employee, formatDuration(rec.Duration), rec.RunRate)

	case *active:
		activeTask, err := led.ActiveTask(ctx, *employee)
		if err != nil {
			fail(logger, err)
		}
		if activeTask == nil {
			fmt.Printf("No active task for %s\n", *employee)
			return
		}
		fmt.Printf("%s is working on %s (%s, qty %d) since %s\n",
			activeTask.Employee, activeTask.Task, activeTask.Label, activeTask.Quantity, activeTask.StartText)

	case *doReport:
		from, to, err := parseWindow(*fromDate, *toDate)
		if err != nil {
			fail(logger, err)
		}
		agg := report.NewAggregator(st, cfg.Tasks, led.Codec(), resilience.NewRetrier(retryPolicy, logger), logger)
		rep, err := agg.GetReport(ctx, *employee, from, to)
		if err != nil {
			if errors.Is(err, report.ErrNoRecords) {
				fmt.Printf("No records for %s between %s and %s\n",
					*employee, record.FormatDate(from), record.FormatDate(to))
				return
			}
			fail(logger, err)
		}
		printReport(rep)

	default:
		fmt.Fprintln(os.Stderr, "nothing to do: pass -start, -end, -active or -report")
		os.Exit(2)
	}
}

// fail prints a user-actionable message for expected failures and logs
// anything else, then exits nonzero.
func fail(logger *charmLog.Logger, err error) {
	var verr *ledger.ValidationError
	if ledger.IsConflict(err) || errors.As(err, &verr) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Fatal("operation failed", "error", err)
}

func parseWindow(fromText, toText string) (time.Time, time.Time, error) {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), 1, 12, 0, 0, 0, time.Local)
	to := now
	var err error
	if fromText != "" {
		if from, err = record.ParseDate(fromText); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toText != "" {
		if to, err = record.ParseDate(toText); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("report window ends (%s) before it starts (%s)", toText, fromText)
	}
	return from, to, nil
}

func printReport(rep *report.EmployeeReport) {
	fmt.Printf("Report for %s (%s - %s)\n", rep.Employee,
		record.FormatDate(rep.From), record.FormatDate(rep.To))
	fmt.Printf("  Total work:      %s\n", formatDuration(rep.TotalWorkSeconds))
	fmt.Printf("  Productive work: %s\n", formatDuration(rep.ProductiveWorkSeconds))
	fmt.Printf("  Total items:     %d\n", rep.TotalItems)
	fmt.Printf("  Avg run rate:    %.1f s/item\n\n", rep.AverageRunRate)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tITEMS\tTIME\tRUN RATE")
	for _, tt := range rep.TaskTotals {
		fmt.Fprintf(w, "%s\t%d\t%s\t%.1f\n", tt.Task, tt.Quantity, formatDuration(tt.Duration), tt.RunRate)
	}
	w.Flush()

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTASK\tLABEL\tQTY\tSTART\tEND\tTIME")
	for _, rec := range rep.DetailedRecords {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.DateText, rec.Task, rec.Label, rec.Quantity, rec.StartText, rec.ActualEnd, formatDuration(rec.Duration))
	}
	w.Flush()
}

func formatDuration(seconds int) string {
	d := time.Duration(seconds) * time.Second
	return d.String()
}
