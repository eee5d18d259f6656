// Package export writes an anchoring session and its track as CSV or XLSX
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/anchorwatch/anchorwatch/pkg"
)

// Supported formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	trackSheet   = "Track"
	sessionSheet = "Session"
)

var trackHeader = []string{"timestamp", "latitude", "longitude", "accuracy_m", "distance_m", "triggered"}

// ContentType returns the MIME type for format
func ContentType(format string) string {
	switch format {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Filename builds the download name for a session export
func Filename(session *pkg.AnchoringSession, format string) string {
	return fmt.Sprintf("anchorwatch_session_%d_%s.%s", session.ID, session.StartedAt.UTC().Format("20060102_150405"), format)
}

// Write dispatches on format
func Write(w io.Writer, format string, session *pkg.AnchoringSession, track []pkg.TrackPoint) error {
	switch format {
	case FormatCSV, "":
		return CSV(w, track)
	case FormatXLSX:
		return XLSX(w, session, track)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func trackRow(tp pkg.TrackPoint) []string {
	accuracy := ""
	if tp.Accuracy != nil {
		accuracy = strconv.FormatFloat(*tp.Accuracy, 'f', 1, 64)
	}
	return []string{
		tp.Timestamp.UTC().Format(time.RFC3339),
		strconv.FormatFloat(tp.Latitude, 'f', 7, 64),
		strconv.FormatFloat(tp.Longitude, 'f', 7, 64),
		accuracy,
		strconv.FormatFloat(tp.Distance, 'f', 2, 64),
		strconv.FormatBool(tp.Triggered),
	}
}

// CSV writes the track with a header row
func CSV(w io.Writer, track []pkg.TrackPoint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(trackHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, tp := range track {
		if err := writer.Write(trackRow(tp)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// XLSX writes a workbook with a session summary sheet and a track sheet
func XLSX(w io.Writer, session *pkg.AnchoringSession, track []pkg.TrackPoint) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", trackSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := make([]interface{}, len(trackHeader))
	for i, h := range trackHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(trackSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, tp := range track {
		var accuracy interface{}
		if tp.Accuracy != nil {
			accuracy = *tp.Accuracy
		}
		row := []interface{}{
			tp.Timestamp.UTC().Format(time.RFC3339),
			tp.Latitude,
			tp.Longitude,
			accuracy,
			tp.Distance,
			tp.Triggered,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(trackSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(trackSheet, "A", "A", 22); err != nil {
		return err
	}

	if session != nil {
		if err := writeSessionSheet(f, session, len(track)); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSessionSheet(f *excelize.File, s *pkg.AnchoringSession, points int) error {
	if _, err := f.NewSheet(sessionSheet); err != nil {
		return fmt.Errorf("create session sheet: %w", err)
	}

	ended := ""
	if s.EndedAt != nil {
		ended = s.EndedAt.UTC().Format(time.RFC3339)
	}
	bottom := ""
	if s.BottomType != nil {
		bottom = s.BottomType.String()
	}

	rows := [][]interface{}{
		{"session_id", s.ID},
		{"anchor_latitude", s.AnchorPoint.Latitude},
		{"anchor_longitude", s.AnchorPoint.Longitude},
		{"drag_threshold_m", s.DragThreshold},
		{"started_at", s.StartedAt.UTC().Format(time.RFC3339)},
		{"ended_at", ended},
		{"max_distance_m", s.MaxDistance},
		{"alarm_count", s.AlarmCount},
		{"depth_m", s.DepthM},
		{"rode_m", s.RodeM},
		{"bottom_type", bottom},
		{"track_points", points},
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sessionSheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write session row: %w", err)
		}
	}
	return f.SetColWidth(sessionSheet, "A", "A", 20)
}
