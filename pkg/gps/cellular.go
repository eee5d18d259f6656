package gps

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// Geolocator resolves cell towers to a position
type Geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// NewGoogleGeolocator creates a Google Geolocation API client
func NewGoogleGeolocator(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create google maps client: %w", err)
	}
	return client, nil
}

// ServingCell is the radio cell the modem is registered on
type ServingCell struct {
	Radio  string
	MCC    int
	MNC    int
	CellID int
	LAC    int
	Signal int
}

// CellularSource is a coarse fallback: the serving cell is read from the
// modem and resolved through the Google Geolocation API
type CellularSource struct {
	exec     Executor
	geo      Geolocator
	priority int
	logger   *logx.Logger
	now      func() time.Time
}

// NewCellularSource creates a cellular source
func NewCellularSource(exec Executor, geo Geolocator, priority int, logger *logx.Logger) *CellularSource {
	return &CellularSource{exec: exec, geo: geo, priority: priority, logger: logger, now: time.Now}
}

func (s *CellularSource) Name() string  { return pkg.SourceCellular }
func (s *CellularSource) Priority() int { return s.priority }

// Available checks that gsmctl exists on the target
func (s *CellularSource) Available(ctx context.Context) bool {
	_, err := s.exec.Output(ctx, "which", "gsmctl")
	return err == nil
}

// Collect resolves the serving cell to a position
func (s *CellularSource) Collect(ctx context.Context) (*pkg.Geopoint, error) {
	out, err := s.exec.Output(ctx, "gsmctl", "-A", `AT+QENG="servingcell"`)
	if err != nil {
		return nil, fmt.Errorf("read serving cell: %w", err)
	}
	cell, err := parseServingCell(string(out))
	if err != nil {
		return nil, err
	}

	s.logger.LogVerbose("cellular_serving_cell", map[string]interface{}{
		"radio":   cell.Radio,
		"mcc":     cell.MCC,
		"mnc":     cell.MNC,
		"cell_id": cell.CellID,
		"lac":     cell.LAC,
	})

	res, err := s.geo.Geolocate(ctx, &maps.GeolocationRequest{
		RadioType: maps.RadioType(cell.Radio),
		CellTowers: []maps.CellTower{{
			CellID:            cell.CellID,
			LocationAreaCode:  cell.LAC,
			MobileCountryCode: cell.MCC,
			MobileNetworkCode: cell.MNC,
			SignalStrength:    cell.Signal,
		}},
		ConsiderIP: false,
	})
	if err != nil {
		return nil, fmt.Errorf("google geolocation: %w", err)
	}

	accuracy := res.Accuracy
	return &pkg.Geopoint{
		Latitude:  res.Location.Lat,
		Longitude: res.Location.Lng,
		Accuracy:  &accuracy,
		Timestamp: s.now(),
		Source:    pkg.SourceCellular,
	}, nil
}

// Close closes a remote executor
func (s *CellularSource) Close() error { return closeExecutor(s.exec) }

// parseServingCell parses the Quectel serving cell report. LTE:
//
//	+QENG: "servingcell","NOCONN","LTE","FDD",240,01,18BCF1F,443,1300,3,5,5,2A3,-84,-8,-53,17,0,-,43
//
// WCDMA:
//
//	+QENG: "servingcell","NOCONN","WCDMA",240,01,2A3,18BCF1F,10737,279,1,-79,-6,...
func parseServingCell(output string) (*ServingCell, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+QENG:") {
			continue
		}
		raw := strings.Split(strings.TrimPrefix(line, "+QENG:"), ",")
		parts := make([]string, len(raw))
		for i, p := range raw {
			parts[i] = strings.Trim(p, " \"")
		}
		if len(parts) < 3 || parts[0] != "servingcell" {
			continue
		}

		var mcc, mnc, cellID, lac, signal string
		var radio string
		switch parts[2] {
		case "LTE":
			if len(parts) < 14 {
				return nil, fmt.Errorf("short LTE serving cell report")
			}
			radio = "lte"
			mcc, mnc, cellID, lac, signal = parts[4], parts[5], parts[6], parts[12], parts[13]
		case "WCDMA":
			if len(parts) < 11 {
				return nil, fmt.Errorf("short WCDMA serving cell report")
			}
			radio = "wcdma"
			mcc, mnc, lac, cellID, signal = parts[3], parts[4], parts[5], parts[6], parts[10]
		default:
			return nil, fmt.Errorf("unsupported radio %q", parts[2])
		}

		cell := &ServingCell{Radio: radio}
		var err error
		if cell.MCC, err = strconv.Atoi(mcc); err != nil {
			return nil, fmt.Errorf("invalid MCC %q", mcc)
		}
		if cell.MNC, err = strconv.Atoi(mnc); err != nil {
			return nil, fmt.Errorf("invalid MNC %q", mnc)
		}
		id, err := strconv.ParseInt(cellID, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cell id %q", cellID)
		}
		cell.CellID = int(id)
		if v, err := strconv.ParseInt(lac, 16, 64); err == nil && v > 0 {
			cell.LAC = int(v)
		} else {
			// derived from the cell id when the modem does not report it
			cell.LAC = cell.CellID >> 8
		}
		if v, err := strconv.Atoi(signal); err == nil {
			cell.Signal = v
		}
		return cell, nil
	}
	return nil, ErrNoFix
}
