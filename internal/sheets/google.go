package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const valueInputRaw = "RAW"

// GoogleBackend talks to one spreadsheet through the Sheets v4 API.
type GoogleBackend struct {
	srv           *gsheets.Service
	spreadsheetID string
}

// NewGoogleBackend authenticates with a service-account credentials file.
func NewGoogleBackend(ctx context.Context, spreadsheetID, credentialsFile string, opts ...option.ClientOption) (*GoogleBackend, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(gsheets.SpreadsheetsScope))

	srv, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &GoogleBackend{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (g *GoogleBackend) SheetTitles(ctx context.Context) ([]string, error) {
	ss, err := g.srv.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

func (g *GoogleBackend) AddSheet(ctx context.Context, title string) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: title},
			},
		}},
	}
	_, err := g.srv.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *GoogleBackend) Get(ctx context.Context, rng string) ([][]string, error) {
	resp, err := g.srv.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		if isMissingRange(err) {
			return nil, ErrRangeNotFound
		}
		return nil, err
	}
	return fromCells(resp.Values), nil
}

func (g *GoogleBackend) Update(ctx context.Context, rng string, values [][]string) error {
	vr := &gsheets.ValueRange{Values: toCells(values)}
	_, err := g.srv.Spreadsheets.Values.Update(g.spreadsheetID, rng, vr).
		ValueInputOption(valueInputRaw).
		Context(ctx).Do()
	return err
}

func (g *GoogleBackend) Append(ctx context.Context, rng string, values [][]string) error {
	vr := &gsheets.ValueRange{Values: toCells(values)}
	_, err := g.srv.Spreadsheets.Values.Append(g.spreadsheetID, rng, vr).
		ValueInputOption(valueInputRaw).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return err
}

func (g *GoogleBackend) BatchUpdate(ctx context.Context, data []RangeValues) error {
	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: valueInputRaw}
	for _, d := range data {
		req.Data = append(req.Data, &gsheets.ValueRange{Range: d.Range, Values: toCells(d.Values)})
	}
	_, err := g.srv.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
	return err
}

func (g *GoogleBackend) Clear(ctx context.Context, rng string) error {
	_, err := g.srv.Spreadsheets.Values.Clear(g.spreadsheetID, rng, &gsheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func isMissingRange(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")
}

func toCells(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}

func fromCells(rows [][]interface{}) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out
}

var _ Backend = (*GoogleBackend)(nil)
