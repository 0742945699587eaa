package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unitrack/attendance-api/internal/models"
	appErrors "github.com/unitrack/attendance-api/pkg/errors"
	"github.com/unitrack/attendance-api/pkg/export"
)

// ExportFormat enumerates supported report formats.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportResult carries the rendered report bytes plus response metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ExportService renders per-student attendance reports as CSV or PDF.
type ExportService struct {
	analytics *AnalyticsService
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	logger    *zap.Logger
}

// NewExportService constructs an export service.
func NewExportService(analytics *AnalyticsService, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		analytics: analytics,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		logger:    logger,
	}
}

var exportHeaders = []string{"Student ID", "Name", "Department", "Total Classes", "Present", "Percentage"}

// Export builds the cohort report dataset and renders it in the requested format.
func (s *ExportService) Export(ctx context.Context, filter models.CohortFilter, format ExportFormat) (*ExportResult, error) {
	rows, err := s.analytics.PerUser(ctx, filter)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{Headers: exportHeaders, Rows: make([]map[string]string, 0, len(rows))}
	for _, row := range rows {
		department := ""
		if row.Department != nil {
			department = *row.Department
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student ID":    row.UserID,
			"Name":          row.FullName,
			"Department":    department,
			"Total Classes": fmt.Sprintf("%d", row.TotalClasses),
			"Present":       fmt.Sprintf("%d", row.PresentCount),
			"Percentage":    fmt.Sprintf("%.2f", row.Percentage),
		})
	}

	stamp := time.Now().UTC().Format("20060102")
	switch format {
	case FormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("attendance-report-%s.csv", stamp),
		}, nil
	case FormatPDF:
		content, err := s.pdf.Render(dataset, exportTitle(filter))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("attendance-report-%s.pdf", stamp),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format: %s", format))
	}
}

func exportTitle(filter models.CohortFilter) string {
	parts := []string{"Attendance Report"}
	if filter.Department != "" {
		parts = append(parts, filter.Department)
	}
	if filter.Semester != nil {
		parts = append(parts, fmt.Sprintf("Semester %d", *filter.Semester))
	}
	return strings.Join(parts, " - ")
}
