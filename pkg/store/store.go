// Package store persists bottom observations, anchoring sessions, track points
// and settings in a local SQLite database
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// DefaultMaxObservations caps the persisted observation log
const DefaultMaxObservations = 1000

const settingsKey = "app_settings"

// Store is the SQLite-backed persistence layer
type Store struct {
	db              *sql.DB
	path            string
	maxObservations int
	logger          *logx.Logger
}

// Open opens or creates the database at path and applies the schema
func Open(path string, maxObservations int, logger *logx.Logger) (*Store, error) {
	if maxObservations <= 0 {
		maxObservations = DefaultMaxObservations
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)

	s := &Store{
		db:              db,
		path:            path,
		maxObservations: maxObservations,
		logger:          logger,
	}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database opened", "path", path, "max_observations", maxObservations)
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bottom_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		bottom_type TEXT NOT NULL,
		confidence TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_observations_timestamp ON bottom_observations(timestamp);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		anchor_latitude REAL NOT NULL,
		anchor_longitude REAL NOT NULL,
		anchor_accuracy REAL,
		drag_threshold REAL NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		max_distance REAL NOT NULL DEFAULT 0,
		alarm_count INTEGER NOT NULL DEFAULT 0,
		depth_m REAL NOT NULL DEFAULT 0,
		rode_m REAL NOT NULL DEFAULT 0,
		bottom_type TEXT
	);

	CREATE TABLE IF NOT EXISTS track_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		timestamp INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		accuracy REAL,
		distance REAL NOT NULL,
		triggered INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_track_session ON track_points(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// AddObservation stores a bottom observation and trims the log to its cap.
// The new row id is returned.
func (s *Store) AddObservation(ctx context.Context, obs pkg.BottomObservation) (int64, error) {
	if err := obs.Point().Validate(); err != nil {
		return 0, err
	}
	if !obs.BottomType.Valid() {
		return 0, fmt.Errorf("invalid bottom type %d", int(obs.BottomType))
	}
	if !obs.Confidence.Valid() {
		return 0, fmt.Errorf("invalid confidence %q", obs.Confidence)
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO bottom_observations (latitude, longitude, bottom_type, confidence, timestamp) VALUES (?, ?, ?, ?, ?)`,
		obs.Latitude, obs.Longitude, obs.BottomType.String(), string(obs.Confidence), toMillis(obs.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("insert observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM bottom_observations WHERE id NOT IN (
			SELECT id FROM bottom_observations ORDER BY id DESC LIMIT ?
		)`, s.maxObservations); err != nil {
		return 0, fmt.Errorf("trim observations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Observations returns the stored observations in insertion order
func (s *Store) Observations(ctx context.Context) ([]pkg.BottomObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, bottom_type, confidence, timestamp FROM bottom_observations ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pkg.BottomObservation
	for rows.Next() {
		var (
			obs        pkg.BottomObservation
			bottomType string
			confidence string
			ts         int64
		)
		if err := rows.Scan(&obs.ID, &obs.Latitude, &obs.Longitude, &bottomType, &confidence, &ts); err != nil {
			return nil, err
		}
		bt, err := pkg.ParseBottomType(bottomType)
		if err != nil {
			s.logger.Warn("Skipping observation with unknown bottom type", "id", obs.ID, "bottom_type", bottomType)
			continue
		}
		obs.BottomType = bt
		obs.Confidence = pkg.ObservationConfidence(confidence)
		obs.Timestamp = fromMillis(ts)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// DeleteObservation removes one observation
func (s *Store) DeleteObservation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bottom_observations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StartSession records a new anchoring session and sets its ID
func (s *Store) StartSession(ctx context.Context, session *pkg.AnchoringSession) error {
	var bottom sql.NullString
	if session.BottomType != nil {
		bottom = sql.NullString{String: session.BottomType.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (anchor_latitude, anchor_longitude, anchor_accuracy, drag_threshold, started_at, depth_m, rode_m, bottom_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.AnchorPoint.Latitude, session.AnchorPoint.Longitude, nullFloat(session.AnchorPoint.Accuracy),
		session.DragThreshold, toMillis(session.StartedAt), session.DepthM, session.RodeM, bottom)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	session.ID = id
	return nil
}

// UpdateSessionStats stores the running maximum distance and alarm count
func (s *Store) UpdateSessionStats(ctx context.Context, id int64, maxDistance float64, alarmCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET max_distance = ?, alarm_count = ? WHERE id = ?`, maxDistance, alarmCount, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndSession closes an open session
func (s *Store) EndSession(ctx context.Context, id int64, endedAt time.Time, maxDistance float64, alarmCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, max_distance = ?, alarm_count = ? WHERE id = ? AND ended_at IS NULL`,
		toMillis(endedAt), maxDistance, alarmCount, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const sessionColumns = `id, anchor_latitude, anchor_longitude, anchor_accuracy, drag_threshold, started_at, ended_at,
	max_distance, alarm_count, depth_m, rode_m, bottom_type`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*pkg.AnchoringSession, error) {
	var (
		session  pkg.AnchoringSession
		accuracy sql.NullFloat64
		started  int64
		ended    sql.NullInt64
		bottom   sql.NullString
	)
	err := row.Scan(&session.ID, &session.AnchorPoint.Latitude, &session.AnchorPoint.Longitude, &accuracy,
		&session.DragThreshold, &started, &ended, &session.MaxDistance, &session.AlarmCount,
		&session.DepthM, &session.RodeM, &bottom)
	if err != nil {
		return nil, err
	}
	session.AnchorPoint.Accuracy = floatPtr(accuracy)
	session.StartedAt = fromMillis(started)
	session.AnchorPoint.Timestamp = session.StartedAt
	if ended.Valid {
		t := fromMillis(ended.Int64)
		session.EndedAt = &t
	}
	if bottom.Valid {
		if bt, err := pkg.ParseBottomType(bottom.String); err == nil {
			session.BottomType = &bt
		}
	}
	return &session, nil
}

// GetSession returns one session by id
func (s *Store) GetSession(ctx context.Context, id int64) (*pkg.AnchoringSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// OpenSession returns the most recent session that was never ended, used to
// resume a watch after a restart
func (s *Store) OpenSession(ctx context.Context) (*pkg.AnchoringSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return session, err
}

// ListSessions returns sessions newest first, all when limit <= 0
func (s *Store) ListSessions(ctx context.Context, limit int) ([]pkg.AnchoringSession, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pkg.AnchoringSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *session)
	}
	return out, rows.Err()
}

// AddTrackPoint appends an evaluated fix to a session track
func (s *Store) AddTrackPoint(ctx context.Context, tp pkg.TrackPoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO track_points (session_id, timestamp, latitude, longitude, accuracy, distance, triggered)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tp.SessionID, toMillis(tp.Timestamp), tp.Latitude, tp.Longitude, nullFloat(tp.Accuracy), tp.Distance, tp.Triggered)
	if err != nil {
		return fmt.Errorf("insert track point: %w", err)
	}
	return nil
}

// TrackPoints returns the track of a session in time order
func (s *Store) TrackPoints(ctx context.Context, sessionID int64) ([]pkg.TrackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, timestamp, latitude, longitude, accuracy, distance, triggered
		FROM track_points WHERE session_id = ? ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pkg.TrackPoint
	for rows.Next() {
		var (
			tp       pkg.TrackPoint
			ts       int64
			accuracy sql.NullFloat64
		)
		if err := rows.Scan(&tp.SessionID, &ts, &tp.Latitude, &tp.Longitude, &accuracy, &tp.Distance, &tp.Triggered); err != nil {
			return nil, err
		}
		tp.Timestamp = fromMillis(ts)
		tp.Accuracy = floatPtr(accuracy)
		out = append(out, tp)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its track
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSettings persists the user settings
func (s *Store) SaveSettings(ctx context.Context, settings pkg.AppSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		settingsKey, string(data), toMillis(time.Now()))
	return err
}

// LoadSettings returns the persisted settings, or ErrNotFound if none were saved
func (s *Store) LoadSettings(ctx context.Context) (pkg.AppSettings, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, settingsKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return pkg.AppSettings{}, ErrNotFound
	}
	if err != nil {
		return pkg.AppSettings{}, err
	}

	settings := pkg.DefaultAppSettings()
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return pkg.AppSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}
