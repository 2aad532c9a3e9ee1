package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"caphe/internal/domain"
	"caphe/internal/models"
)

const (
	sheetBookings    = "Брони"
	sheetSettlements = "Расчёты"
)

// Exporter строит XLSX-отчёт по броням и расчётам за период.
type Exporter struct {
	store  domain.Store
	path   string
	logger *zerolog.Logger
}

func NewExporter(store domain.Store, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{store: store, path: path, logger: logger}
}

// PeriodReport writes a two-sheet report (bookings and settlements) for
// the inclusive date range and returns the file path.
func (e *Exporter) PeriodReport(ctx context.Context, startDate, endDate time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	bookings, err := e.store.GetBookingsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %v", err)
	}
	settlements, err := e.store.GetSettlementsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting settlements: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeBookingsSheet(f, bookings, startDate, endDate); err != nil {
		return "", err
	}
	if err := e.writeSettlementsSheet(f, settlements); err != nil {
		return "", err
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("report_%s_to_%s.xlsx",
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}

func (e *Exporter) writeBookingsSheet(f *excelize.File, bookings []*models.Booking, startDate, endDate time.Time) error {
	index, err := f.NewSheet(sheetBookings)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetBookings, "A1", fmt.Sprintf("Период: %s - %s",
		startDate.Format("02.01.2006"), endDate.Format("02.01.2006")))
	_ = f.MergeCell(sheetBookings, "A1", "J1")

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetBookings, "A1", "A1", titleStyle)

	headers := []string{"ID", "Стол", "Гость", "Телефон", "Гостей", "Дата", "Время", "Депозит", "Итог", "Статус"}
	e.writeHeaderRow(f, sheetBookings, headers, 2)

	for i, b := range bookings {
		row := i + 3
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("A%d", row), b.ID)
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("B%d", row), b.TableName)
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("C%d", row), b.CustomerName)
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("D%d", row), b.Phone)
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("E%d", row), b.PartySize)
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("F%d", row), b.Date.Format("02.01.2006"))
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("G%d", row), b.Time)
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("H%d", row), formatAmount(b.DepositAmount))
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("I%d", row), formatAmount(b.TotalAmount))
		_ = f.SetCellValue(sheetBookings, fmt.Sprintf("J%d", row), statusIcon(b.Status)+" "+b.Status)
	}

	_ = f.SetColWidth(sheetBookings, "A", "A", 8)
	_ = f.SetColWidth(sheetBookings, "B", "D", 20)
	_ = f.SetColWidth(sheetBookings, "E", "G", 12)
	_ = f.SetColWidth(sheetBookings, "H", "J", 15)
	return nil
}

func (e *Exporter) writeSettlementsSheet(f *excelize.File, settlements []*models.Settlement) error {
	if _, err := f.NewSheet(sheetSettlements); err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}

	headers := []string{"ID", "Бронь", "Тип", "Сумма", "Референс", "Исход", "Причина", "Подтверждён"}
	e.writeHeaderRow(f, sheetSettlements, headers, 1)

	for i, s := range settlements {
		row := i + 2
		confirmedAt := ""
		if s.ConfirmedAt != nil {
			confirmedAt = s.ConfirmedAt.Format("02.01.2006 15:04")
		}
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("A%d", row), s.ID)
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("B%d", row), s.BookingID)
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("C%d", row), kindLabel(s.Kind))
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("D%d", row), formatAmount(s.Amount))
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("E%d", row), s.BankReference)
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("F%d", row), s.Outcome)
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("G%d", row), s.FailureReason)
		_ = f.SetCellValue(sheetSettlements, fmt.Sprintf("H%d", row), confirmedAt)
	}

	_ = f.SetColWidth(sheetSettlements, "A", "B", 8)
	_ = f.SetColWidth(sheetSettlements, "C", "D", 15)
	_ = f.SetColWidth(sheetSettlements, "E", "E", 40)
	_ = f.SetColWidth(sheetSettlements, "F", "H", 20)
	return nil
}

func (e *Exporter) writeHeaderRow(f *excelize.File, sheet string, headers []string, row int) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

// formatAmount переводит минорные единицы в рубли для отчёта.
func formatAmount(minor int64) string {
	if minor == 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", float64(minor)/100)
}

func statusIcon(status string) string {
	switch status {
	case models.StatusConfirmed, models.StatusCompleted:
		return "✅"
	case models.StatusPending:
		return "⌛"
	case models.StatusCancelled:
		return "❌"
	default:
		return "❓"
	}
}

func kindLabel(kind string) string {
	switch kind {
	case models.KindDeposit:
		return "Депозит"
	case models.KindFinalPayment:
		return "Итоговый счёт"
	default:
		return kind
	}
}
