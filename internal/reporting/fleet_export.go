package reporting

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	devices "purifier-cloud/internal/devices/domain"
	registry "purifier-cloud/internal/registry/domain"
)

// ZoneSummary is one timezone row in a fleet report.
type ZoneSummary struct {
	Timezone    string
	MemberCount int
	LastRunDate string
}

// DeviceRow is one device row in a fleet report.
type DeviceRow struct {
	DeviceID   string
	OwnerID    string
	Label      string
	Timezone   string
	StationRef string
}

// FleetReport is a point-in-time snapshot of the registry and its
// member devices, built for export.
type FleetReport struct {
	GeneratedAt time.Time
	Zones       []ZoneSummary
	Devices     []DeviceRow
}

// BuildFleetReport assembles a report from the registry and record
// store. Members whose record is missing are listed with blank fields
// rather than dropped, so the report mirrors registry membership.
func BuildFleetReport(ctx context.Context, reg registry.Registry, records devices.Repository) (*FleetReport, error) {
	entries, err := reg.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reporting: list registry: %w", err)
	}

	report := &FleetReport{GeneratedAt: time.Now().UTC()}
	for _, entry := range entries {
		report.Zones = append(report.Zones, ZoneSummary{
			Timezone:    entry.Timezone,
			MemberCount: entry.MemberCount,
			LastRunDate: entry.LastRunDate,
		})
		for _, deviceID := range entry.MemberDeviceIDs {
			row := DeviceRow{DeviceID: deviceID, Timezone: entry.Timezone}
			if record, err := records.Get(ctx, deviceID); err == nil {
				row.OwnerID = record.OwnerID
				row.Label = record.Label
				row.StationRef = record.StationRef
			}
			report.Devices = append(report.Devices, row)
		}
	}
	sort.Slice(report.Zones, func(i, j int) bool { return report.Zones[i].Timezone < report.Zones[j].Timezone })
	sort.Slice(report.Devices, func(i, j int) bool { return report.Devices[i].DeviceID < report.Devices[j].DeviceID })
	return report, nil
}

// BuildFleetPDF renders a fleet report as PDF.
func BuildFleetPDF(report *FleetReport) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Fleet Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Zones: %d", len(report.Zones)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Devices: %d", len(report.Devices)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Timezone", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Members", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Last Run", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, zone := range report.Zones {
		pdf.CellFormat(60, 6, zone.Timezone, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%d", zone.MemberCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, zone.LastRunDate, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(8)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Owner", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Label", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Timezone", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Station", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, row := range report.Devices {
		pdf.CellFormat(40, 6, row.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, row.OwnerID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, row.Label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, row.Timezone, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, row.StationRef, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetXLSX renders a fleet report as XLSX.
func BuildFleetXLSX(report *FleetReport) ([]byte, error) {
	f := excelize.NewFile()
	zonesSheet := "zones"
	devicesSheet := "devices"
	f.SetSheetName("Sheet1", zonesSheet)
	f.NewSheet(devicesSheet)

	_ = f.SetCellValue(zonesSheet, "A1", "Timezone")
	_ = f.SetCellValue(zonesSheet, "B1", "Members")
	_ = f.SetCellValue(zonesSheet, "C1", "Last Run")
	for i, zone := range report.Zones {
		row := i + 2
		_ = f.SetCellValue(zonesSheet, fmt.Sprintf("A%d", row), zone.Timezone)
		_ = f.SetCellValue(zonesSheet, fmt.Sprintf("B%d", row), zone.MemberCount)
		_ = f.SetCellValue(zonesSheet, fmt.Sprintf("C%d", row), zone.LastRunDate)
	}

	_ = f.SetCellValue(devicesSheet, "A1", "Device")
	_ = f.SetCellValue(devicesSheet, "B1", "Owner")
	_ = f.SetCellValue(devicesSheet, "C1", "Label")
	_ = f.SetCellValue(devicesSheet, "D1", "Timezone")
	_ = f.SetCellValue(devicesSheet, "E1", "Station")
	for i, row := range report.Devices {
		line := i + 2
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("A%d", line), row.DeviceID)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("B%d", line), row.OwnerID)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("C%d", line), row.Label)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("D%d", line), row.Timezone)
		_ = f.SetCellValue(devicesSheet, fmt.Sprintf("E%d", line), row.StationRef)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
