package reports

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/load_validator/models"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/xuri/excelize/v2"
)

const loadHistorySheet = "Sheet1"

// ExcelContentType is the MIME type of the workbooks written here.
const ExcelContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportLoadHistory writes one sheet listing the customer's load records in the given order.
func ExportLoadHistory(w io.Writer, customerId string, records []*models.LoadRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	// Add headers
	f.SetCellValue(loadHistorySheet, "A1", "CustomerId")
	f.SetCellValue(loadHistorySheet, "B1", "LoadId")
	f.SetCellValue(loadHistorySheet, "C1", "LoadAmount")
	f.SetCellValue(loadHistorySheet, "D1", "Time")
	f.SetCellValue(loadHistorySheet, "E1", "DailyLimitAccepted")
	f.SetCellValue(loadHistorySheet, "F1", "WeeklyLimitAccepted")
	f.SetCellValue(loadHistorySheet, "G1", "DailyCountAccepted")
	f.SetCellValue(loadHistorySheet, "H1", "Accepted")

	// Add data
	for i, r := range records {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(loadHistorySheet, "A"+row, customerId)
		f.SetCellValue(loadHistorySheet, "B"+row, r.LoadId)
		f.SetCellValue(loadHistorySheet, "C"+row, utils.FormatLoadAmount(r.LoadAmount))
		f.SetCellValue(loadHistorySheet, "D"+row, r.LoadTime.UTC().Format("2006-01-02T15:04:05Z"))
		f.SetCellValue(loadHistorySheet, "E"+row, r.DailyLimitAccepted)
		f.SetCellValue(loadHistorySheet, "F"+row, r.WeeklyLimitAccepted)
		f.SetCellValue(loadHistorySheet, "G"+row, r.DailyCountAccepted)
		f.SetCellValue(loadHistorySheet, "H"+row, r.Accepted())
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write load history workbook: %w", err)
	}
	return nil
}
