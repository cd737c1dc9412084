// Package logging provides config-driven categorized logging for scanforge.
// Every pipeline stage logs through its own category; categories can be
// switched off individually. Output is produced by a shared zap logger.
// When debug mode is off only warnings and errors are emitted.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Boot/initialization
	CategoryPipeline   Category = "pipeline"   // Orchestrator progress
	CategoryClassify   Category = "classify"   // Structural classification
	CategoryExtract    Category = "extract"    // Semantic extraction backends
	CategoryStrategy   Category = "strategy"   // Strategy selection
	CategoryRender     Category = "render"     // Code rendering
	CategoryValidate   Category = "validate"   // Validation categories
	CategoryCorrection Category = "correction" // Self-correction loop
	CategoryStore      Category = "store"      // SQLite cache/history
	CategoryWatch      Category = "watch"      // File watcher
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string          `yaml:"level"`
	Format     string          `yaml:"format"` // json, console
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// Logger wraps a named zap logger for one category
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	base    *zap.Logger = zap.NewNop()
	cfg     Config
	loggers = make(map[Category]*Logger)
)

// Initialize builds the shared zap logger from cfg.
// Calling it again replaces the previous logger.
func Initialize(c Config) error {
	level := zapcore.InfoLevel
	if c.Level != "" {
		if err := level.Set(strings.ToLower(c.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
	}
	if c.DebugMode {
		level = zapcore.DebugLevel
	}

	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	SetBase(l, c)

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", level, c.Format)
	return nil
}

// SetBase installs an already-built zap logger. Tests use it with an observer core.
func SetBase(l *zap.Logger, c Config) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
	cfg = c
	loggers = make(map[Category]*Logger)
}

// Reset restores the no-op logger.
func Reset() {
	SetBase(nil, Config{})
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	z := zap.NewNop()
	if categoryEnabledLocked(category) {
		z = base.Named(string(category))
	}
	l := &Logger{category: category, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Zap exposes the underlying logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// Sync flushes buffered entries (call at shutdown)
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...interface{}) {
	Get(CategoryPipeline).Info(format, args...)
}

// PipelineDebug logs debug to the pipeline category
func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debug(format, args...)
}

// ClassifyDebug logs debug to the classify category
func ClassifyDebug(format string, args ...interface{}) {
	Get(CategoryClassify).Debug(format, args...)
}

// Extract logs to the extract category
func Extract(format string, args ...interface{}) {
	Get(CategoryExtract).Info(format, args...)
}

// ExtractDebug logs debug to the extract category
func ExtractDebug(format string, args ...interface{}) {
	Get(CategoryExtract).Debug(format, args...)
}

// ExtractWarn logs a warning to the extract category
func ExtractWarn(format string, args ...interface{}) {
	Get(CategoryExtract).Warn(format, args...)
}

// StrategyDebug logs debug to the strategy category
func StrategyDebug(format string, args ...interface{}) {
	Get(CategoryStrategy).Debug(format, args...)
}

// RenderDebug logs debug to the render category
func RenderDebug(format string, args ...interface{}) {
	Get(CategoryRender).Debug(format, args...)
}

// ValidateDebug logs debug to the validate category
func ValidateDebug(format string, args ...interface{}) {
	Get(CategoryValidate).Debug(format, args...)
}

// Correction logs to the correction category
func Correction(format string, args ...interface{}) {
	Get(CategoryCorrection).Info(format, args...)
}

// CorrectionDebug logs debug to the correction category
func CorrectionDebug(format string, args ...interface{}) {
	Get(CategoryCorrection).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}
