// Package uci loads the daemon configuration and writes runtime changes back through the uci CLI
package uci

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/retry"
)

// Package name under /etc/config
const Package = "anchorwatch"

// Commander runs a command and returns its stdout
type Commander interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// UCI wraps the uci command line tool
type UCI struct {
	logger *logx.Logger
	runner Commander
}

// NewUCI creates a UCI client. A nil runner uses the default retry runner.
func NewUCI(logger *logx.Logger, runner Commander) *UCI {
	if runner == nil {
		runner = retry.NewRunner(retry.DefaultConfig())
	}
	return &UCI{logger: logger, runner: runner}
}

// Get retrieves a UCI option value
func (u *UCI) Get(ctx context.Context, section, option string) (string, error) {
	key := fmt.Sprintf("%s.%s.%s", Package, section, option)
	output, err := u.runner.Output(ctx, "uci", "-q", "get", key)
	if err != nil {
		return "", fmt.Errorf("failed to get UCI option %s: %w", key, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// Set sets a UCI option value
func (u *UCI) Set(ctx context.Context, section, option, value string) error {
	key := fmt.Sprintf("%s.%s.%s", Package, section, option)
	if _, err := u.runner.Output(ctx, "uci", "set", key+"="+value); err != nil {
		return fmt.Errorf("failed to set UCI option %s: %w", key, err)
	}
	return nil
}

// Commit commits pending changes
func (u *UCI) Commit(ctx context.Context) error {
	if _, err := u.runner.Output(ctx, "uci", "commit", Package); err != nil {
		return fmt.Errorf("failed to commit UCI config %s: %w", Package, err)
	}
	return nil
}

// Revert drops pending changes
func (u *UCI) Revert(ctx context.Context) error {
	if _, err := u.runner.Output(ctx, "uci", "revert", Package); err != nil {
		return fmt.Errorf("failed to revert UCI config %s: %w", Package, err)
	}
	return nil
}

// SaveSettings persists the user-adjustable settings to the main section and commits.
// Pending changes are reverted when any set fails.
func (u *UCI) SaveSettings(ctx context.Context, s pkg.AppSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	options := []struct{ name, value string }{
		{"drag_threshold_m", strconv.FormatFloat(s.DragThreshold, 'f', -1, 64)},
		{"update_interval_s", strconv.Itoa(s.UpdateIntervalSeconds)},
		{"smoothing_window", strconv.Itoa(s.SmoothingWindowSize)},
		{"debounce_s", strconv.Itoa(s.DebounceSeconds)},
		{"language", s.Language},
	}
	for _, opt := range options {
		if opt.value == "" {
			continue
		}
		if err := u.Set(ctx, "main", opt.name, opt.value); err != nil {
			if rerr := u.Revert(ctx); rerr != nil {
				u.logger.Warn("uci revert failed", "error", rerr)
			}
			return err
		}
	}
	if err := u.Commit(ctx); err != nil {
		return err
	}

	u.logger.Info("settings saved", "drag_threshold_m", s.DragThreshold, "smoothing_window", s.SmoothingWindowSize,
		"debounce_s", s.DebounceSeconds, "language", s.Language)
	return nil
}
