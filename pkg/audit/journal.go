// Package audit keeps an on-disk journal of anchor watch events.
//
// Events are appended as JSON lines to size-rotated files so the history of
// a night at anchor survives daemon restarts and the in-memory telemetry
// retention window.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// Journal files rotate at DefaultMaxFileSize and at most DefaultMaxFiles are kept
const (
	DefaultMaxFileSize = 5 * 1024 * 1024
	DefaultMaxFiles    = 5

	filePrefix = "events-"
	fileSuffix = ".jsonl"
)

// Config for a Journal
type Config struct {
	Dir         string
	MaxFileSize int64
	MaxFiles    int
}

// Journal appends watch events to rotating JSONL files
type Journal struct {
	cfg    Config
	logger *logx.Logger
	now    func() time.Time

	mu      sync.Mutex
	current *os.File
	size    int64
}

// Open creates the journal directory if needed and opens a fresh file
func Open(cfg Config, logger *logx.Logger) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, errors.New("journal directory not set")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{cfg: cfg, logger: logger, now: time.Now}
	if err := j.openFile(); err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return j, nil
}

// Record appends one event. Drag alarms are synced to disk immediately.
func (j *Journal) Record(ev pkg.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.current == nil {
		return errors.New("journal closed")
	}
	if j.size > 0 && j.size+int64(len(data)) > j.cfg.MaxFileSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("failed to rotate journal: %w", err)
		}
	}

	n, err := j.current.Write(data)
	j.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if ev.Type == pkg.EventDragAlarm {
		if err := j.current.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
	}
	return nil
}

// Query returns the newest events at or after since, oldest first.
// types filters by event type when not empty; limit <= 0 returns all matches.
func (j *Journal) Query(since time.Time, types []string, limit int) ([]pkg.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := j.files()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var events []pkg.Event
	for _, file := range files {
		fileEvents, err := readEvents(file, since, wanted)
		if err != nil {
			if j.logger != nil {
				j.logger.Warn("Skipping unreadable journal file", "file", file, "error", err)
			}
			continue
		}
		events = append(events, fileEvents...)
		if limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}
	}
	return events, nil
}

// Close flushes and closes the current file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.current == nil {
		return nil
	}
	err := j.current.Close()
	j.current = nil
	return err
}

func (j *Journal) openFile() error {
	name := fmt.Sprintf("%s%019d%s", filePrefix, j.now().UnixNano(), fileSuffix)
	file, err := os.OpenFile(filepath.Join(j.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	j.current = file
	j.size = stat.Size()
	return nil
}

func (j *Journal) rotate() error {
	if j.current != nil {
		if err := j.current.Close(); err != nil && j.logger != nil {
			j.logger.Warn("Failed to close journal file", "error", err)
		}
		j.current = nil
	}
	if err := j.openFile(); err != nil {
		return err
	}
	j.cleanup()
	return nil
}

// cleanup removes the oldest files beyond MaxFiles
func (j *Journal) cleanup() {
	files, err := j.files()
	if err != nil {
		return
	}
	for i := 0; i < len(files)-j.cfg.MaxFiles; i++ {
		if err := os.Remove(files[i]); err != nil && j.logger != nil {
			j.logger.Warn("Failed to remove old journal file", "file", files[i], "error", err)
		}
	}
}

// files lists journal files oldest first
func (j *Journal) files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(j.cfg.Dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list journal files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func readEvents(filename string, since time.Time, wanted map[string]bool) ([]pkg.Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var events []pkg.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev pkg.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// torn write from a power cut
			continue
		}
		if ev.Timestamp.Before(since) {
			continue
		}
		if len(wanted) > 0 && !wanted[ev.Type] {
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
