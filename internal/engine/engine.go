package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"fleetwatch/internal/alertstore"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/maintenance"
	"fleetwatch/internal/metricsource"
	"fleetwatch/internal/models"
	"fleetwatch/internal/rules"
	"fleetwatch/internal/telemetry"

	"go.uber.org/zap"
)

// EventSink receives alert lifecycle events for dispatch and archiving.
// Implementations must not block; the engine calls them from workers.
type EventSink interface {
	AlertOpened(alert *models.Alert, device *models.Device)
	AlertCleared(alert *models.Alert)
}

// Options tune the evaluation loop.
type Options struct {
	TickInterval time.Duration
	Workers      int
	QueueSize    int
}

func (o *Options) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 30 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
}

type task struct {
	rule    *rules.Rule
	device  models.Device
	windows []models.MaintenanceWindow
	now     time.Time
}

// Engine drives rule evaluation. Each tick it expands enabled rules to
// their devices and hashes every (rule, device) pair onto a fixed worker
// by fingerprint, so all evaluations of one alert stream happen on one
// goroutine and never race each other.
type Engine struct {
	rules  *rules.Store
	alerts *alertstore.Store
	maint  *maintenance.Store
	source metricsource.Source
	breach BreachStore
	sinks  []EventSink
	opts   Options

	queues []chan task
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(ruleStore *rules.Store, alertStore *alertstore.Store, maintStore *maintenance.Store,
	source metricsource.Source, breach BreachStore, opts Options, sinks ...EventSink) *Engine {
	opts.setDefaults()
	return &Engine{
		rules:  ruleStore,
		alerts: alertStore,
		maint:  maintStore,
		source: source,
		breach: breach,
		sinks:  sinks,
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start launches the workers and the tick loop. It returns immediately;
// call Stop to drain and shut down.
func (e *Engine) Start(ctx context.Context) {
	e.queues = make([]chan task, e.opts.Workers)
	for i := 0; i < e.opts.Workers; i++ {
		e.queues[i] = make(chan task, e.opts.QueueSize)
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	e.wg.Add(1)
	go e.tickLoop(ctx)

	logger.Log.Info("evaluation engine started",
		zap.Duration("tick", e.opts.TickInterval),
		zap.Int("workers", e.opts.Workers))
}

// Stop halts the tick loop, drains the worker queues and waits for
// in-flight evaluations to finish.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	logger.Log.Info("evaluation engine stopped")
}

func (e *Engine) tickLoop(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		for _, q := range e.queues {
			close(q)
		}
	}()

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			start := time.Now()
			e.runTick(ctx, now)
			telemetry.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// runTick expands rules into per-device tasks and enqueues them. A full
// queue drops the task with a warning; the stream is re-evaluated next
// tick, so a drop costs latency, not correctness.
func (e *Engine) runTick(ctx context.Context, now time.Time) {
	enabled, err := e.rules.ListEnabled(ctx)
	if err != nil {
		telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindStore).Inc()
		logger.Log.Error("failed to list rules for tick", zap.Error(err))
		return
	}

	windowCache := make(map[string][]models.MaintenanceWindow)

	for i := range enabled {
		rule, err := rules.Decode(&enabled[i])
		if err != nil {
			telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindConfig).Inc()
			logger.Log.Warn("skipping invalid rule", zap.String("rule_id", enabled[i].ID), zap.Error(err))
			continue
		}

		devices, err := e.rules.TargetDevices(ctx, rule)
		if err != nil {
			telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindStore).Inc()
			logger.Log.Warn("failed to expand rule scope", zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}

		windows, ok := windowCache[rule.TenantID]
		if !ok {
			windows, err = e.maint.ActiveWindows(ctx, rule.TenantID, now)
			if err != nil {
				telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindStore).Inc()
				logger.Log.Warn("failed to load maintenance windows",
					zap.String("tenant_id", rule.TenantID), zap.Error(err))
				windows = nil
			}
			windowCache[rule.TenantID] = windows
		}

		for _, device := range devices {
			t := task{rule: rule, device: device, windows: windows, now: now}
			fp := alertstore.Fingerprint(rule.TenantID, rule.ID, device.ID)
			q := e.queues[partition(fp, len(e.queues))]
			select {
			case q <- t:
			default:
				logger.Log.Warn("evaluation queue full, dropping task",
					zap.String("rule_id", rule.ID), zap.String("device_id", device.ID))
			}
		}
	}

	e.refreshGauges(ctx)
}

func partition(fingerprint string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	return int(h.Sum32() % uint32(n))
}

func (e *Engine) worker(ctx context.Context, idx int) {
	defer e.wg.Done()
	for t := range e.queues[idx] {
		if err := e.process(ctx, t); err != nil {
			switch {
			case errors.Is(err, metricsource.ErrUnavailable):
				telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindData).Inc()
				logger.Log.Warn("telemetry unavailable",
					zap.String("rule_id", t.rule.ID), zap.String("device_id", t.device.ID), zap.Error(err))
			case errors.Is(err, alertstore.ErrConflict):
				telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindStore).Inc()
				logger.Log.Warn("alert store conflict",
					zap.String("rule_id", t.rule.ID), zap.String("device_id", t.device.ID), zap.Error(err))
			default:
				telemetry.EvaluationErrors.WithLabelValues(telemetry.ErrKindStore).Inc()
				logger.Log.Error("evaluation failed",
					zap.String("rule_id", t.rule.ID), zap.String("device_id", t.device.ID), zap.Error(err))
			}
		}
	}
}

// process runs one (rule, device) evaluation through the sustain tracker
// and the alert store.
func (e *Engine) process(ctx context.Context, t task) error {
	telemetry.RulesEvaluated.WithLabelValues(t.rule.RuleType).Inc()

	ev, err := e.evaluateRule(ctx, t)
	if err != nil {
		return err
	}

	fp := alertstore.Fingerprint(t.rule.TenantID, t.rule.ID, t.device.ID)
	key := t.rule.ID + ":" + t.device.ID
	sustain := time.Duration(t.rule.Duration()) * time.Minute
	suppressed := maintenance.Suppressed(t.windows, &t.device)

	out, err := e.breach.Observe(ctx, key, ev.Breaching, sustain, t.now)
	if err != nil {
		return err
	}

	// A maintenance window blocks alert creation and dispatch, but the
	// streak above keeps accumulating: a breach that satisfied its sustain
	// during the window pages on the first tick after it ends. Recovery
	// during the window still auto-clears.
	if out.Active {
		if suppressed {
			telemetry.AlertsSuppressed.Inc()
			return nil
		}
		return e.fire(ctx, t, ev, fp)
	}
	if out.Cleared {
		return e.clear(ctx, t, fp)
	}
	return nil
}

// evaluateRule handles the multi-rule clause combination; everything
// else goes straight to the type evaluator. Each clause runs through its
// own sustain tracker so "all" only counts clauses that have held long
// enough.
func (e *Engine) evaluateRule(ctx context.Context, t task) (Evaluation, error) {
	if t.rule.Spec.Multi == nil {
		return evaluate(ctx, e.source, t.rule, t.device.ID, t.now)
	}

	spec := t.rule.Spec.Multi
	clauseDetails := make([]map[string]interface{}, 0, len(spec.Conditions))
	activeCount := 0

	for i, cond := range spec.Conditions {
		clauseEv, err := evalLatest(ctx, e.source, t.rule.TenantID, t.device.ID,
			cond.Metric, cond.Operator, cond.Threshold)
		if err != nil {
			return Evaluation{}, err
		}

		clauseKey := fmt.Sprintf("%s:%s:%d", t.rule.ID, t.device.ID, i)
		clauseSustain := time.Duration(cond.DurationMinutes) * time.Minute
		out, err := e.breach.Observe(ctx, clauseKey, clauseEv.Breaching, clauseSustain, t.now)
		if err != nil {
			return Evaluation{}, err
		}
		if out.Active {
			activeCount++
		}
		if clauseEv.Detail != nil {
			clauseEv.Detail["sustained"] = out.Active
			clauseDetails = append(clauseDetails, clauseEv.Detail)
		}
	}

	breaching := activeCount == len(spec.Conditions)
	if spec.MatchMode == rules.MatchAny {
		breaching = activeCount > 0
	}

	return Evaluation{
		Breaching: breaching,
		Detail: map[string]interface{}{
			"match_mode": spec.MatchMode,
			"active":     activeCount,
			"conditions": clauseDetails,
		},
	}, nil
}

func (e *Engine) fire(ctx context.Context, t task, ev Evaluation, fp string) error {
	details, _ := json.Marshal(ev.Detail)
	candidate := &models.Alert{
		TenantID:        t.rule.TenantID,
		RuleID:          t.rule.ID,
		DeviceID:        t.device.ID,
		AlertType:       t.rule.RuleType,
		Severity:        t.rule.Severity,
		Fingerprint:     fp,
		LastTriggeredAt: t.now,
		Summary:         fmt.Sprintf("%s: %s on %s", models.SeverityName(t.rule.Severity), t.rule.Name, t.device.Name),
		Details:         string(details),
	}

	alert, created, err := e.alerts.Trigger(ctx, candidate)
	if err != nil {
		return err
	}
	if created {
		telemetry.AlertsCreated.WithLabelValues(t.rule.RuleType, models.SeverityName(t.rule.Severity)).Inc()
		logger.Log.Info("alert opened",
			zap.String("alert_id", alert.ID),
			zap.String("rule_id", t.rule.ID),
			zap.String("device_id", t.device.ID),
			zap.Int("severity", t.rule.Severity))
		for _, sink := range e.sinks {
			sink.AlertOpened(alert, &t.device)
		}
	}
	return nil
}

func (e *Engine) clear(ctx context.Context, t task, fp string) error {
	cleared, err := e.alerts.AutoClear(ctx, fp, t.now)
	if err != nil {
		return err
	}
	if cleared {
		telemetry.AlertsAutoCleared.Inc()
		logger.Log.Info("alert auto-cleared",
			zap.String("rule_id", t.rule.ID),
			zap.String("device_id", t.device.ID))
		for _, sink := range e.sinks {
			sink.AlertCleared(&models.Alert{
				TenantID:    t.rule.TenantID,
				RuleID:      t.rule.ID,
				DeviceID:    t.device.ID,
				Fingerprint: fp,
				Status:      models.AlertStatusClosed,
			})
		}
	}
	return nil
}

func (e *Engine) refreshGauges(ctx context.Context) {
	counts, err := e.alerts.OpenCountBySeverity(ctx)
	if err != nil {
		logger.Log.Warn("failed to refresh alert gauges", zap.Error(err))
		return
	}
	for sev := 1; sev <= 5; sev++ {
		telemetry.OpenAlerts.WithLabelValues(models.SeverityName(sev)).Set(float64(counts[sev]))
	}

	devices, err := e.rules.DeviceCountByStatus(ctx)
	if err != nil {
		logger.Log.Warn("failed to refresh device gauges", zap.Error(err))
		return
	}
	for _, status := range []string{models.DeviceStatusOnline, models.DeviceStatusOffline, models.DeviceStatusMaintenance} {
		telemetry.DevicesByStatus.WithLabelValues(status).Set(float64(devices[status]))
	}
}
