package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bhikandeshmukh/ACPLEFF-sub000/pkg/schema"
	"github.com/charmbracelet/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/sheets/v4"
)

var _ Store = (*SheetsStore)(nil)

// SheetsStore is the Google Sheets implementation of Store. One instance is
// bound to a single spreadsheet; worksheet tabs within it map to employees.
type SheetsStore struct {
	srv           *sheets.Service
	spreadsheetID string
	logger        *log.Logger
}

// NewSheetsStore wraps an authenticated Sheets service.
func NewSheetsStore(srv *sheets.Service, spreadsheetID string, logger *log.Logger) *SheetsStore {
	if logger == nil {
		logger = log.Default()
	}
	return &SheetsStore{srv: srv, spreadsheetID: spreadsheetID, logger: logger.With("component", "sheets")}
}

func (s *SheetsStore) SheetExists(ctx context.Context, sheetName string) (bool, error) {
	resp, err := s.srv.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("unable to read spreadsheet metadata: %w", err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheetName {
			return true, nil
		}
	}
	return false, nil
}

func (s *SheetsStore) CreateSheet(ctx context.Context, sheetName string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: sheetName},
			},
		}},
	}
	_, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		// Two writers can race the exists-check; the loser's failure is benign.
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 400 && strings.Contains(gerr.Message, "already exists") {
			s.logger.Debug("sheet already exists", "sheet", sheetName)
			return nil
		}
		return fmt.Errorf("unable to create sheet %q: %w", sheetName, err)
	}
	return nil
}

func (s *SheetsStore) ReadRows(ctx context.Context, sheetName string) ([][]string, error) {
	readRange := fmt.Sprintf("'%s'!A%d:ZZ", sheetName, schema.DataStartRow+1)
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read rows from %q: %w", sheetName, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, raw := range resp.Values {
		row := make([]string, len(raw))
		for j, v := range raw {
			row[j] = fmt.Sprint(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func (s *SheetsStore) WriteRow(ctx context.Context, sheetName string, rowIndex int, values []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(values)}}
	target := fmt.Sprintf("'%s'!A%d", sheetName, rowIndex+1)
	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, target, vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to write row %d of %q: %w", rowIndex+1, sheetName, err)
	}
	return nil
}

func (s *SheetsStore) BatchWriteCells(ctx context.Context, sheetName string, cells []Cell) error {
	data := make([]*sheets.ValueRange, len(cells))
	for i, c := range cells {
		data[i] = &sheets.ValueRange{
			Range:  fmt.Sprintf("'%s'!%s", sheetName, c.Address),
			Values: [][]interface{}{{c.Value}},
		}
	}
	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	_, err := s.srv.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to batch-write %d cells to %q: %w", len(cells), sheetName, err)
	}
	return nil
}

func (s *SheetsStore) HeaderRow(ctx context.Context, sheetName string) ([]string, error) {
	readRange := fmt.Sprintf("'%s'!1:1", sheetName)
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to read header of %q: %w", sheetName, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	header := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		header[i] = fmt.Sprint(v)
	}
	return header, nil
}

func (s *SheetsStore) WriteHeaderRow(ctx context.Context, sheetName string, labels []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{toInterfaces(labels)}}
	target := fmt.Sprintf("'%s'!A1", sheetName)
	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, target, vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to write header of %q: %w", sheetName, err)
	}
	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
