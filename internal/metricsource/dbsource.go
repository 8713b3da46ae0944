package metricsource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetwatch/internal/models"

	"gorm.io/gorm"
)

// DBSource reads telemetry from the telemetry_readings table. It is the
// default source; the Elasticsearch source covers deployments that ship
// telemetry straight to ES.
type DBSource struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewDBSource(db *gorm.DB, timeout time.Duration) *DBSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DBSource{db: db, timeout: timeout}
}

func (s *DBSource) Latest(ctx context.Context, tenantID, deviceID, metric string) (*Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var reading models.TelemetryReading
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND metric = ?", tenantID, deviceID, metric).
		Order("observed_at DESC").
		First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest %s/%s: %v", ErrUnavailable, deviceID, metric, err)
	}
	return &Sample{Value: reading.Value, ObservedAt: reading.ObservedAt}, nil
}

func (s *DBSource) Window(ctx context.Context, tenantID, deviceID, metric string, from, to time.Time) ([]Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var readings []models.TelemetryReading
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND device_id = ? AND metric = ? AND observed_at >= ? AND observed_at <= ?",
			tenantID, deviceID, metric, from, to).
		Order("observed_at ASC").
		Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("%w: window %s/%s: %v", ErrUnavailable, deviceID, metric, err)
	}

	samples := make([]Sample, 0, len(readings))
	for _, r := range readings {
		samples = append(samples, Sample{Value: r.Value, ObservedAt: r.ObservedAt})
	}
	return samples, nil
}

func (s *DBSource) LastObservedAt(ctx context.Context, tenantID, deviceID, metric string) (*time.Time, error) {
	latest, err := s.Latest(ctx, tenantID, deviceID, metric)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return &latest.ObservedAt, nil
}
