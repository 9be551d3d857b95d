// Package export renders a set of records as a spreadsheet report.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/zombor/coincard/internal/query"
	"github.com/zombor/coincard/internal/record"
)

const (
	SheetName   = "CoinCard Records"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout  = "02/01/2006 15:04:05"
)

var (
	header       = []string{"STT", "Người nhận", "Số tiền", "Số tiền (định dạng)", "Ngày tạo", "Hashtags"}
	columnWidths = []float64{5, 20, 15, 20, 20, 30}
)

// Data is the aggregate handed to the exporter
type Data struct {
	Records     []*record.Record `json:"records"`
	TotalAmount int64            `json:"totalAmount"`
	ExportDate  string           `json:"exportDate"`
	RecordCount int              `json:"recordCount"`

	location *time.Location
}

// Prepare totals records and stamps the export date. Dates are rendered in now's location.
func Prepare(records []*record.Record, now time.Time) Data {
	return Data{
		Records:     records,
		TotalAmount: query.Sum(records),
		ExportDate:  now.Format(dateLayout),
		RecordCount: len(records),
		location:    now.Location(),
	}
}

// FormatCurrency renders a VND amount the Vietnamese way, e.g. "1.250.000 ₫"
func FormatCurrency(amount int64) string {
	p := message.NewPrinter(language.Vietnamese)
	return p.Sprintf("%v ₫", number.Decimal(amount))
}

// FormatDate renders t as dd/mm/yyyy hh:mm:ss in loc
func FormatDate(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(dateLayout)
}

// Rows lays out the report: a summary block, a blank row, the column header and one row
// per record
func Rows(data Data) [][]any {
	rows := [][]any{
		{"Báo cáo dữ liệu CoinCard"},
		{"Ngày xuất:", data.ExportDate},
		{"Tổng số bản ghi:", data.RecordCount},
		{"Tổng số tiền:", FormatCurrency(data.TotalAmount)},
		{},
	}

	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	rows = append(rows, headerRow)

	for i, r := range data.Records {
		rows = append(rows, []any{
			i + 1,
			r.Recipient,
			r.Amount,
			FormatCurrency(r.Amount),
			FormatDate(r.CreatedAt, data.location),
			strings.Join(r.Hashtags, ", "),
		})
	}
	return rows
}

// WriteXLSX writes the report as an xlsx workbook
func WriteXLSX(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, row := range Rows(data) {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("addressing row %d: %w", i+1, err)
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("naming column %d: %w", i+1, err)
		}
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("sizing column %s: %w", col, err)
		}
	}

	if err := f.MergeCell(SheetName, "A1", "F1"); err != nil {
		return fmt.Errorf("merging title: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Filename names an export after its creation time
func Filename(now time.Time) string {
	return fmt.Sprintf("CoinCard_Export_%s.xlsx", now.UTC().Format("2006-01-02T15-04-05"))
}
