// Package notify is the side channel through which the services report
// parameter changes and completed calculations to audit and notification
// systems. Delivery is the collaborator's concern.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ParameterChange describes one committed parameter value change.
type ParameterChange struct {
	ScenarioID  string
	ParameterID string
	Key         string
	OldValue    float64
	NewValue    float64
	ChangedBy   string
	Reason      string
	ChangedAt   time.Time
}

// CalculationEvent describes a finished recalculation.
type CalculationEvent struct {
	ScenarioID      string
	Status          string
	Forced          bool
	Duration        time.Duration
	EnterpriseValue float64
	Err             string
}

// Notifier is called after a successful state change. Implementations must
// not block the caller for long and must be safe for concurrent use.
type Notifier interface {
	ParameterChanged(ctx context.Context, change ParameterChange)
	CalculationCompleted(ctx context.Context, event CalculationEvent)
}

// Nop discards every notification.
type Nop struct{}

// ParameterChanged implements Notifier.
func (Nop) ParameterChanged(context.Context, ParameterChange) {}

// CalculationCompleted implements Notifier.
func (Nop) CalculationCompleted(context.Context, CalculationEvent) {}

// LogNotifier writes every notification to a zap logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a Notifier that logs at info level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// ParameterChanged implements Notifier.
func (n *LogNotifier) ParameterChanged(_ context.Context, change ParameterChange) {
	n.logger.Info("parameter changed",
		zap.String("op", "notify.ParameterChanged"),
		zap.String("scenario", change.ScenarioID),
		zap.String("parameter", change.ParameterID),
		zap.String("key", change.Key),
		zap.Float64("old", change.OldValue),
		zap.Float64("new", change.NewValue),
		zap.String("changedBy", change.ChangedBy),
	)
}

// CalculationCompleted implements Notifier.
func (n *LogNotifier) CalculationCompleted(_ context.Context, event CalculationEvent) {
	fields := []zap.Field{
		zap.String("op", "notify.CalculationCompleted"),
		zap.String("scenario", event.ScenarioID),
		zap.String("status", event.Status),
		zap.Bool("forced", event.Forced),
		zap.Duration("duration", event.Duration),
		zap.Float64("enterpriseValue", event.EnterpriseValue),
	}
	if event.Err != "" {
		fields = append(fields, zap.String("error", event.Err))
	}
	n.logger.Info("calculation completed", fields...)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu           sync.Mutex
	changes      []ParameterChange
	calculations []CalculationEvent
}

// ParameterChanged implements Notifier.
func (r *Recorder) ParameterChanged(_ context.Context, change ParameterChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

// CalculationCompleted implements Notifier.
func (r *Recorder) CalculationCompleted(_ context.Context, event CalculationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calculations = append(r.calculations, event)
}

// Changes returns the recorded parameter changes.
func (r *Recorder) Changes() []ParameterChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ParameterChange(nil), r.changes...)
}

// Calculations returns the recorded calculation events.
func (r *Recorder) Calculations() []CalculationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CalculationEvent(nil), r.calculations...)
}
