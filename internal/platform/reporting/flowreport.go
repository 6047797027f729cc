// Package reporting renders the floor state as an Excel workbook for the
// end-of-day review.
package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/optiflow/flow/internal/domain/patientflow"
)

// Sheet names in the flow report.
const (
	SheetPatients = "Patients"
	SheetZones    = "Zones"
	SheetCensus   = "Census"
)

var patientHeader = []string{
	"Token", "Name", "Age", "Score", "Journey", "Department", "Status",
	"Entered Zone", "Minutes In Zone", "Overdue", "Est. Wait (min)", "Skipped",
}

var patientWidths = []float64{10, 24, 6, 7, 48, 14, 13, 18, 16, 9, 15, 20}

var zoneHeader = []string{
	"Department", "Active", "Waiting", "In Progress", "Avg Wait (min)", "Zone Avg (min)", "Overdue", "Risk",
}

var zoneWidths = []float64{16, 9, 9, 12, 15, 15, 9, 8}

const timeLayout = "2006-01-02 15:04"

// FlowReport builds the workbook for patients at now. The caller owns the
// returned file and must Close it.
func FlowReport(patients []*patientflow.Patient, zones patientflow.ZoneTimes, now time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	overdueStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#9C0006"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create overdue style: %w", err)
	}

	board := patientflow.BuildBoard(patients, zones, now)

	if _, err := f.NewSheet(SheetPatients); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	if err := writeHeader(f, SheetPatients, patientHeader, patientWidths, headerStyle); err != nil {
		return nil, err
	}
	for i, p := range patients {
		row := i + 2
		overdue := !p.Completed() && patientflow.IsOverdue(p, now)
		entered := ""
		if p.EnteredZoneAt != nil {
			entered = p.EnteredZoneAt.Format(timeLayout)
		}
		values := []interface{}{
			p.Token, p.Name, p.Age, p.ComplexityScore, joinDepartments(p.Journey),
			string(p.CurrentDepartment), string(p.Status), entered,
			patientflow.MinutesInZone(p, now), yesNo(overdue), p.EstimatedWaitTime, skipped(p),
		}
		if err := writeRow(f, SheetPatients, row, values); err != nil {
			return nil, err
		}
		if overdue {
			from, _ := excelize.CoordinatesToCellName(1, row)
			to, _ := excelize.CoordinatesToCellName(len(patientHeader), row)
			if err := f.SetCellStyle(SheetPatients, from, to, overdueStyle); err != nil {
				return nil, fmt.Errorf("style overdue row: %w", err)
			}
		}
	}
	if err := f.SetPanes(SheetPatients, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.NewSheet(SheetZones); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := writeHeader(f, SheetZones, zoneHeader, zoneWidths, headerStyle); err != nil {
		return nil, err
	}
	for i, z := range board.Zones {
		values := []interface{}{
			string(z.Department), len(z.Patients), z.Waiting, z.InProgress,
			z.AvgWait, z.AvgMinutes, yesNo(z.AnyOverdue), string(z.Risk),
		}
		if err := writeRow(f, SheetZones, i+2, values); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(SheetCensus); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	census := [][]interface{}{
		{"Generated", now.Format(timeLayout)},
		{"Active", board.Census.Active},
		{"Waiting", board.Census.Waiting},
		{"In Progress", board.Census.InProgress},
		{"Completed", board.Census.Completed},
		{"Overdue", board.Census.Overdue},
	}
	for i, values := range census {
		if err := writeRow(f, SheetCensus, i+1, values); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(SheetCensus, "A", "B", 18); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	idx, err := f.GetSheetIndex(SheetPatients)
	if err != nil {
		return nil, fmt.Errorf("locate sheet: %w", err)
	}
	f.SetActiveSheet(idx)

	ok = true
	return f, nil
}

// WriteFlowReport renders the report straight to w.
func WriteFlowReport(w io.Writer, patients []*patientflow.Patient, zones patientflow.ZoneTimes, now time.Time) error {
	f, err := FlowReport(patients, zones, now)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []string, widths []float64, style int) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("set header cell %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("convert column number: %w", err)
		}
		if col < len(widths) {
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("set column width: %w", err)
			}
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func joinDepartments(ds []patientflow.Department) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = string(d)
	}
	return strings.Join(names, " > ")
}

func skipped(p *patientflow.Patient) string {
	var names []string
	for _, e := range p.Timeline {
		if e.Status == patientflow.EntrySkipped {
			names = append(names, string(e.Department))
		}
	}
	return strings.Join(names, ", ")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
