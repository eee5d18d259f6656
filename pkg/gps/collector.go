package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
)

// ErrNoSources is returned by Fetch when no source is configured or available
var ErrNoSources = errors.New("no GPS sources available")

// Config controls fix collection and validation
type Config struct {
	MaxFixAge     time.Duration `json:"max_fix_age"`    // older fixes are rejected, 0 disables
	MaxAccuracyM  float64       `json:"max_accuracy_m"` // coarser fixes are rejected, 0 disables
	SourceTimeout time.Duration `json:"source_timeout"`
}

// DefaultConfig returns the default collector configuration
func DefaultConfig() Config {
	return Config{
		MaxFixAge:     60 * time.Second,
		MaxAccuracyM:  0,
		SourceTimeout: 10 * time.Second,
	}
}

// WatchID identifies a subscription
type WatchID uint64

// FixHandler receives each polled fix or the error of a failed poll
type FixHandler func(fix *pkg.Geopoint, err error)

// Collector fetches fixes from the best available source
type Collector struct {
	logger  *logx.Logger
	config  Config
	sources []Source
	now     func() time.Time

	mu         sync.Mutex
	lastFix    *pkg.Geopoint
	lastSource string

	watchMu sync.Mutex
	watches map[WatchID]context.CancelFunc
	nextID  WatchID
	wg      sync.WaitGroup
}

// NewCollector creates a collector over sources, tried in ascending priority
func NewCollector(config Config, logger *logx.Logger, sources ...Source) *Collector {
	if config.SourceTimeout <= 0 {
		config.SourceTimeout = DefaultConfig().SourceTimeout
	}
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	return &Collector{
		logger:  logger,
		config:  config,
		sources: sorted,
		now:     time.Now,
		watches: make(map[WatchID]context.CancelFunc),
	}
}

// Sources returns the source names in the order they are tried
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch returns one validated fix from the first source that delivers one
func (c *Collector) Fetch(ctx context.Context) (*pkg.Geopoint, error) {
	var lastErr error

	for _, source := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !source.Available(ctx) {
			c.logger.LogVerbose("gps_source_unavailable", map[string]interface{}{
				"source": source.Name(),
			})
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, c.config.SourceTimeout)
		fix, err := source.Collect(sctx)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", source.Name(), err)
			c.logger.LogVerbose("gps_collection_failed", map[string]interface{}{
				"source": source.Name(),
				"error":  err.Error(),
			})
			continue
		}
		if fix.Source == "" {
			fix.Source = source.Name()
		}
		if err := c.Validate(fix); err != nil {
			lastErr = fmt.Errorf("%s: %w", source.Name(), err)
			c.logger.LogVerbose("gps_validation_failed", map[string]interface{}{
				"source": source.Name(),
				"error":  err.Error(),
			})
			continue
		}

		c.record(fix)
		return fix, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("failed to collect GPS data from any source: %w", lastErr)
	}
	return nil, ErrNoSources
}

// Validate checks coordinates, accuracy and staleness of a fix
func (c *Collector) Validate(fix *pkg.Geopoint) error {
	if fix == nil {
		return fmt.Errorf("fix is nil")
	}
	if err := fix.Validate(); err != nil {
		return err
	}
	if c.config.MaxAccuracyM > 0 && fix.Accuracy != nil && *fix.Accuracy > c.config.MaxAccuracyM {
		return fmt.Errorf("accuracy too low: %.1f m > %.1f m", *fix.Accuracy, c.config.MaxAccuracyM)
	}
	if c.config.MaxFixAge > 0 && !fix.Timestamp.IsZero() {
		if age := c.now().Sub(fix.Timestamp); age > c.config.MaxFixAge {
			return fmt.Errorf("fix too stale: %v old", age.Round(time.Second))
		}
	}
	return nil
}

func (c *Collector) record(fix *pkg.Geopoint) {
	c.mu.Lock()
	prev := c.lastSource
	cp := *fix
	c.lastFix = &cp
	c.lastSource = fix.Source
	c.mu.Unlock()

	if prev != fix.Source {
		from := prev
		if from == "" {
			from = "none"
		}
		c.logger.LogStateChange("gps_collector", from, fix.Source, "source_changed", nil)
	}
	c.logger.LogVerbose("gps_collection_success", map[string]interface{}{
		"source":    fix.Source,
		"latitude":  fix.Latitude,
		"longitude": fix.Longitude,
		"accuracy":  fix.Accuracy,
	})
}

// LastFix returns a copy of the most recent valid fix, or nil
func (c *Collector) LastFix() *pkg.Geopoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFix == nil {
		return nil
	}
	cp := *c.lastFix
	return &cp
}

// Subscribe polls Fetch immediately and then every interval, calling fn with
// each result until the subscription is cancelled
func (c *Collector) Subscribe(interval time.Duration, fn FixHandler) WatchID {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	c.watchMu.Lock()
	c.nextID++
	id := c.nextID
	c.watches[id] = cancel
	c.watchMu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			fix, err := c.Fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			fn(fix, err)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	c.logger.Debug("GPS subscription started", "watch_id", id, "interval", interval)
	return id
}

// Cancel stops a subscription. It reports false for an unknown id.
func (c *Collector) Cancel(id WatchID) bool {
	c.watchMu.Lock()
	cancel, ok := c.watches[id]
	delete(c.watches, id)
	c.watchMu.Unlock()

	if ok {
		cancel()
		c.logger.Debug("GPS subscription cancelled", "watch_id", id)
	}
	return ok
}

// Close cancels every subscription, waits for the pollers and releases sources
func (c *Collector) Close() error {
	c.watchMu.Lock()
	for id, cancel := range c.watches {
		cancel()
		delete(c.watches, id)
	}
	c.watchMu.Unlock()
	c.wg.Wait()

	var errs []error
	for _, s := range c.sources {
		if closer, ok := s.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
