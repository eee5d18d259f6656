package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// RutOSSource reads the router's GNSS receiver, first through the modem AT
// interface and then through the ubus gps object
type RutOSSource struct {
	exec     Executor
	priority int
	logger   *logx.Logger
	now      func() time.Time
}

// NewRutOSSource creates a RutOS source running its commands through exec
func NewRutOSSource(exec Executor, priority int, logger *logx.Logger) *RutOSSource {
	return &RutOSSource{exec: exec, priority: priority, logger: logger, now: time.Now}
}

func (s *RutOSSource) Name() string  { return pkg.SourceRutOS }
func (s *RutOSSource) Priority() int { return s.priority }

// Available checks that gsmctl exists on the target
func (s *RutOSSource) Available(ctx context.Context) bool {
	_, err := s.exec.Output(ctx, "which", "gsmctl")
	return err == nil
}

// Collect returns the current GNSS fix
func (s *RutOSSource) Collect(ctx context.Context) (*pkg.Geopoint, error) {
	out, err := s.exec.Output(ctx, "gsmctl", "-A", "AT+CGPSINFO")
	if err == nil {
		fix, perr := parseCGPSINFO(string(out), s.now())
		if perr == nil {
			return fix, nil
		}
		err = perr
	}
	s.logger.LogVerbose("gsmctl_gps_failed", map[string]interface{}{"error": err.Error()})

	out, err = s.exec.Output(ctx, "ubus", "call", "gps", "info")
	if err != nil {
		return nil, fmt.Errorf("ubus gps info: %w", err)
	}
	return parseUbusGPS(out, s.now())
}

// Close closes a remote executor
func (s *RutOSSource) Close() error { return closeExecutor(s.exec) }

// parseCGPSINFO parses `+CGPSINFO: lat,N,lon,E,ddmmyy,hhmmss.s,alt,speed,course`
// where lat is DDMM.MMMM and lon is DDDMM.MMMM. The fix time comes from the
// receiver when present.
func parseCGPSINFO(output string, now time.Time) (*pkg.Geopoint, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+CGPSINFO:") {
			continue
		}
		parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "+CGPSINFO:")), ",")
		if len(parts) < 6 || parts[0] == "" || parts[2] == "" {
			return nil, ErrNoFix
		}

		lat, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse latitude %q: %w", parts[0], err)
		}
		lon, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse longitude %q: %w", parts[2], err)
		}
		lat = toDecimalDegrees(lat)
		lon = toDecimalDegrees(lon)
		if strings.EqualFold(parts[1], "S") {
			lat = -lat
		}
		if strings.EqualFold(parts[3], "W") {
			lon = -lon
		}

		ts := now
		if t, ok := parseFixTime(parts[4], parts[5]); ok {
			ts = t
		}
		return &pkg.Geopoint{Latitude: lat, Longitude: lon, Timestamp: ts, Source: pkg.SourceRutOS}, nil
	}
	return nil, fmt.Errorf("no +CGPSINFO line in gsmctl output")
}

// toDecimalDegrees converts DDMM.MMMM to decimal degrees
func toDecimalDegrees(coord float64) float64 {
	degrees := math.Floor(coord / 100)
	minutes := coord - degrees*100
	return degrees + minutes/60
}

func parseFixTime(date, clock string) (time.Time, bool) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	t, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

type ubusGPSInfo struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Altitude   float64  `json:"altitude"`
	Accuracy   *float64 `json:"accuracy"`
	Satellites int      `json:"satellites"`
}

func parseUbusGPS(data []byte, now time.Time) (*pkg.Geopoint, error) {
	var info ubusGPSInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse ubus gps response: %w", err)
	}
	if info.Latitude == nil || info.Longitude == nil || (*info.Latitude == 0 && *info.Longitude == 0) {
		return nil, ErrNoFix
	}
	return &pkg.Geopoint{
		Latitude:  *info.Latitude,
		Longitude: *info.Longitude,
		Accuracy:  info.Accuracy,
		Timestamp: now,
		Source:    pkg.SourceRutOS,
	}, nil
}
