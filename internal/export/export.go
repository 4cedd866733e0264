package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/farmflow/sensorhub/internal/models"
)

// Formats accepted by the export endpoint.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// Headers is the column order of exported readings.
var Headers = []string{
	models.FieldFarmerID,
	models.FieldFieldID,
	models.FieldTemperature,
	models.FieldHumidity,
	models.FieldSoilMoisture,
	models.FieldLightIntensity,
	models.FieldTimeStamp,
}

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	switch format {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func cells(r models.SensorRecord) []any {
	num := func(v *float64) any {
		if v == nil {
			return ""
		}
		return *v
	}
	ts := ""
	if r.TimeStamp != nil {
		ts = r.TimeStamp.UTC().Format(time.RFC3339)
	}
	return []any{r.FarmerID, r.FieldID, num(r.Temperature), num(r.Humidity), num(r.SoilMoisture), num(r.LightIntensity), ts}
}

var sheetNameCleaner = strings.NewReplacer(":", "_", `\`, "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")

// SheetName turns a measurement into a valid worksheet name.
func SheetName(measurement string) string {
	name := sheetNameCleaner.Replace(measurement)
	if name == "" {
		name = "data"
	}
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

// BuildSensorDataXLSX renders readings as one worksheet named after the
// measurement, with a header row.
func BuildSensorDataXLSX(measurement string, records []models.SensorRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(measurement)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	header := make([]any, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := cells(r)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSensorDataPDF renders readings as an A4 landscape table.
func BuildSensorDataPDF(measurement string, records []models.SensorRecord) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "FarmFlow Sensor Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Measurement: %s", measurement))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Readings: %d", len(records)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{35, 35, 30, 30, 35, 35, 55}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range Headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, r := range records {
		for i, v := range cells(r) {
			align := "L"
			text := fmt.Sprint(v)
			if f, ok := v.(float64); ok {
				align, text = "R", fmt.Sprintf("%.2f", f)
			}
			pdf.CellFormat(widths[i], 6, text, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
