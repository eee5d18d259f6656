package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/bottom"
	"github.com/anchorwatch/anchorwatch/pkg/export"
	"github.com/anchorwatch/anchorwatch/pkg/health"
	"github.com/anchorwatch/anchorwatch/pkg/scope"
	"github.com/anchorwatch/anchorwatch/pkg/store"
	"github.com/anchorwatch/anchorwatch/pkg/watch"
)

const (
	defaultTrackWindow  = time.Hour
	defaultEventLimit   = 100
	defaultSessionLimit = 50
	defaultHeatmapKm    = 2.0
	defaultHeatmapGrid  = 20
)

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": health.StatusHealthy})
		return
	}
	var st health.HealthStatus
	if c.Query("detailed") == "true" {
		st = s.deps.Health.DetailedStatus()
	} else {
		st = s.deps.Health.Status()
	}
	code := http.StatusOK
	if st.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now().UTC()})
}

func (s *Server) handleWS(c *gin.Context) {
	s.deps.Hub.serve(c, gin.H{"type": "status", "status": s.deps.Watch.Status()})
}

func (s *Server) handleWatchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Watch.Status())
}

func (s *Server) handleArm(c *gin.Context) {
	var req watch.ArmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
	}

	tr, err := s.deps.Watch.Arm(c.Request.Context(), req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, watch.ErrNoPosition) {
			code = http.StatusServiceUnavailable
		}
		errorJSON(c, code, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": tr, "status": s.deps.Watch.Status()})
}

func (s *Server) handleDisarm(c *gin.Context) {
	tr, err := s.deps.Watch.Disarm(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transition": tr, "status": s.deps.Watch.Status()})
}

// handleTrack returns the live session's recent samples, by minutes or by count
func (s *Server) handleTrack(c *gin.Context) {
	key := s.deps.Watch.SessionKey()
	if key == "" || s.deps.Telemetry == nil {
		c.JSON(http.StatusOK, gin.H{"session": nil, "samples": []interface{}{}})
		return
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if limit > 0 {
		c.JSON(http.StatusOK, gin.H{"session": key, "samples": s.deps.Telemetry.GetSamples(key, limit)})
		return
	}

	window := defaultTrackWindow
	minutes, err := queryInt(c, "minutes", 0)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if minutes > 0 {
		window = time.Duration(minutes) * time.Minute
	}
	c.JSON(http.StatusOK, gin.H{"session": key, "samples": s.deps.Telemetry.GetRecentSamples(key, window)})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.deps.Telemetry == nil {
		c.JSON(http.StatusOK, gin.H{"events": []interface{}{}})
		return
	}
	limit, err := queryInt(c, "limit", defaultEventLimit)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": s.deps.Telemetry.GetEvents(limit)})
}

func (s *Server) handleTelemetryDump(c *gin.Context) {
	if s.deps.Telemetry == nil {
		errorJSON(c, http.StatusNotFound, errors.New("telemetry disabled"))
		return
	}
	data, err := s.deps.Telemetry.ExportJSON()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="telemetry.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// handleEventHistory reads the on-disk journal, which outlives telemetry retention
func (s *Server) handleEventHistory(c *gin.Context) {
	if s.deps.Journal == nil {
		errorJSON(c, http.StatusNotFound, errors.New("event journal disabled"))
		return
	}
	var q struct {
		Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
		Types []string  `form:"type"`
		Limit int       `form:"limit" binding:"gte=0"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultEventLimit
	}
	events, err := s.deps.Journal.Query(q.Since, q.Types, q.Limit)
	if err != nil {
		s.logger.Error("Event journal query failed", "error", err)
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []pkg.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type locationQuery struct {
	Latitude  *float64 `form:"lat" binding:"required,gte=-90,lte=90"`
	Longitude *float64 `form:"lon" binding:"required,gte=-180,lte=180"`
}

func (q locationQuery) point() pkg.Geopoint {
	return pkg.Geopoint{Latitude: *q.Latitude, Longitude: *q.Longitude}
}

func (s *Server) handlePredict(c *gin.Context) {
	var q struct {
		locationQuery
		RadiusM float64 `form:"radius_m" binding:"gte=0"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	prediction := s.deps.Observations.Predict(q.point(), q.RadiusM)
	if prediction == nil {
		c.JSON(http.StatusOK, gin.H{"prediction": nil, "observations": s.deps.Observations.Len()})
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordPrediction(prediction.BottomType.String())
	}
	c.JSON(http.StatusOK, gin.H{
		"prediction":   prediction,
		"info":         prediction.BottomType.Info(),
		"observations": s.deps.Observations.Len(),
	})
}

func (s *Server) handleHeatmap(c *gin.Context) {
	var q struct {
		locationQuery
		RadiusKm float64 `form:"radius_km" binding:"gte=0,lte=50"`
		Grid     int     `form:"grid" binding:"gte=0"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if q.RadiusKm == 0 {
		q.RadiusKm = defaultHeatmapKm
	}
	if q.Grid == 0 {
		q.Grid = defaultHeatmapGrid
	}
	if q.Grid > bottom.MaxGridSize {
		q.Grid = bottom.MaxGridSize
	}

	cells := s.deps.Observations.Heatmap(q.point(), q.RadiusKm, q.Grid)
	c.JSON(http.StatusOK, bottom.HeatmapGeoJSON(cells))
}

func (s *Server) handleAddObservations(c *gin.Context) {
	var req struct {
		Observations []pkg.BottomObservation `json:"observations" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	now := time.Now().UTC()
	for i := range req.Observations {
		if req.Observations[i].Timestamp.IsZero() {
			req.Observations[i].Timestamp = now
		}
		if req.Observations[i].Confidence == "" {
			req.Observations[i].Confidence = pkg.ConfidenceMedium
		}
	}

	if err := bottom.Validate(req.Observations...); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	// the in-memory log only gets what reached the database
	stored := len(req.Observations)
	var storeErr error
	if s.deps.Store != nil {
		for i := range req.Observations {
			id, err := s.deps.Store.AddObservation(c.Request.Context(), req.Observations[i])
			if err != nil {
				stored, storeErr = i, err
				break
			}
			req.Observations[i].ID = id
		}
	}
	if err := s.deps.Observations.Append(req.Observations[:stored]...); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if storeErr != nil {
		s.logger.Error("Failed to persist observation", "stored", stored, "error", storeErr)
		errorJSON(c, http.StatusInternalServerError, storeErr)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"observations": req.Observations, "total": s.deps.Observations.Len()})
}

func (s *Server) handleScope(c *gin.Context) {
	var q struct {
		RodeM       float64  `form:"rode" binding:"required,gt=0"`
		DepthM      float64  `form:"depth" binding:"gte=0"`
		BowHeightM  float64  `form:"bow_height" binding:"gte=0"`
		BoatLengthM float64  `form:"boat_length" binding:"gte=0"`
		AccuracyM   *float64 `form:"accuracy" binding:"omitempty,gte=0"`
		Latitude    *float64 `form:"lat"`
		Longitude   *float64 `form:"lon"`
		Segments    int      `form:"segments"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	plan, err := scope.Calculate(q.RodeM, q.DepthM, q.BowHeightM, q.BoatLengthM, q.AccuracyM)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	resp := gin.H{"plan": plan}

	if q.Latitude != nil && q.Longitude != nil {
		segments := q.Segments
		if segments == 0 {
			segments = 36
		}
		anchor := pkg.Geopoint{Latitude: *q.Latitude, Longitude: *q.Longitude}
		circle, err := scope.SwingCircle(anchor, plan.SwingRadiusM, segments)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, err)
			return
		}
		resp["swing_circle"] = circle
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSessions(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []pkg.AnchoringSession{}})
		return
	}
	limit, err := queryInt(c, "limit", defaultSessionLimit)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	sessions, err := s.deps.Store.ListSessions(c.Request.Context(), limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []pkg.AnchoringSession{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) handleExport(c *gin.Context) {
	if s.deps.Store == nil {
		errorJSON(c, http.StatusNotFound, store.ErrNotFound)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	format := c.DefaultQuery("format", export.FormatCSV)
	if format != export.FormatCSV && format != export.FormatXLSX {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		return
	}

	ctx := c.Request.Context()
	session, err := s.deps.Store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	track, err := s.deps.Store.TrackPoints(ctx, id)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Type", export.ContentType(format))
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(session, format)+`"`)
	c.Status(http.StatusOK)
	if err := export.Write(c.Writer, format, session, track); err != nil {
		s.logger.Error("Session export failed", "session", id, "format", format, "error", err)
	}
}

func (s *Server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.currentSettings())
}

// handlePutSettings applies a full or partial settings document
func (s *Server) handlePutSettings(c *gin.Context) {
	settings := s.currentSettings()
	if err := c.ShouldBindJSON(&settings); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if err := settings.Validate(); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Watch.UpdateSettings(settings); err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveSettings(ctx, settings); err != nil {
			errorJSON(c, http.StatusInternalServerError, err)
			return
		}
	}
	if s.deps.Config != nil {
		if err := s.deps.Config.SaveSettings(ctx, settings); err != nil {
			s.logger.Warn("Failed to write settings to UCI", "error", err)
		}
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.logger.Info("Settings updated via API")
	c.JSON(http.StatusOK, settings)
}
