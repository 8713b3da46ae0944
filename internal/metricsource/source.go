package metricsource

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks transient read failures against the telemetry
// backend. Evaluators treat it as "no data for this tick": no breach is
// recorded, no sustained-state progress is lost, and the tick continues.
var ErrUnavailable = errors.New("metric source unavailable")

// Sample 单个遥测采样点
type Sample struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Source reads telemetry for rule evaluation. Latest returns nil when a
// device has never reported the metric; Window returns samples in
// ascending ObservedAt order.
type Source interface {
	Latest(ctx context.Context, tenantID, deviceID, metric string) (*Sample, error)
	Window(ctx context.Context, tenantID, deviceID, metric string, from, to time.Time) ([]Sample, error)
	LastObservedAt(ctx context.Context, tenantID, deviceID, metric string) (*time.Time, error)
}
