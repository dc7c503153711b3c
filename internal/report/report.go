// Package report builds the XLSX exports of the back office
package report

import (
	"bytes"
	"fmt"

	"github.com/aethra/domus/internal/models"
	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet: a header row followed by data rows
type Sheet struct {
	Name    string
	Headers []string
	Widths  []float64
	Rows    [][]interface{}
}

// PaymentHeaders are the columns of the payments export
var PaymentHeaders = []string{
	"Payment", "Tenant", "Lease", "Type", "Period", "Amount",
	"Due Date", "Status", "Paid At", "Timeliness", "Points", "Method", "Reference",
}

// TenantHeaders are the columns of the tenants export
var TenantHeaders = []string{
	"Tenant", "First Name", "Last Name", "Email", "Phone", "Status",
	"Building", "Apartment", "Lease", "Move-in Date", "Monthly Income",
}

const dateLayout = "2006-01-02"

// Payments exports payments in one sheet
func Payments(company string, payments []models.Payment) ([]byte, error) {
	rows := make([][]interface{}, 0, len(payments))
	for _, p := range payments {
		paidAt := ""
		if p.PaidAt != nil {
			paidAt = p.PaidAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []interface{}{
			p.ID, p.TenantID, deref(p.LeaseID), p.Type, p.Period, p.Amount,
			p.DueDate.Format(dateLayout), p.Status, paidAt, p.Timeliness, p.PointsAwarded, p.Method, p.Reference,
		})
	}
	return Build(company, Sheet{
		Name:    "Payments",
		Headers: PaymentHeaders,
		Widths:  []float64{18, 16, 16, 10, 10, 12, 12, 10, 18, 12, 8, 14, 20},
		Rows:    rows,
	})
}

// Tenants exports tenants in one sheet
func Tenants(company string, tenants []models.Tenant) ([]byte, error) {
	rows := make([][]interface{}, 0, len(tenants))
	for _, t := range tenants {
		moveIn := ""
		if t.MoveInDate != nil {
			moveIn = t.MoveInDate.Format(dateLayout)
		}
		rows = append(rows, []interface{}{
			t.ID, t.FirstName, t.LastName, t.Email, t.Phone, t.Status,
			deref(t.BuildingID), deref(t.ApartmentID), deref(t.LeaseID), moveIn, t.MonthlyIncome,
		})
	}
	return Build(company, Sheet{
		Name:    "Tenants",
		Headers: TenantHeaders,
		Widths:  []float64{16, 16, 18, 28, 16, 10, 10, 10, 16, 12, 14},
		Rows:    rows,
	})
}

// Build writes sheets into a workbook. The company name is stored in the
// document properties.
func Build(company string, sheets ...Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetDocProps(&excelize.DocProperties{Creator: company, Title: company + " export"}); err != nil {
		return nil, fmt.Errorf("failed to set properties: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, s := range sheets {
		index, err := f.NewSheet(s.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.Name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := writeSheet(f, s, headerStyle); err != nil {
			return nil, err
		}
	}
	if len(sheets) > 0 && sheets[0].Name != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return nil, fmt.Errorf("failed to delete default sheet: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, s Sheet, headerStyle int) error {
	header := make([]interface{}, len(s.Headers))
	for i, h := range s.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if len(s.Headers) > 0 {
		last, err := excelize.CoordinatesToCellName(len(s.Headers), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(s.Name, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to style header: %w", err)
		}
	}

	for i, row := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(s.Name, cell, &r); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	for i, w := range s.Widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(s.Name, col, col, w); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	return f.SetPanes(s.Name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
