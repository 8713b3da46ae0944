package notify

import (
	"sync"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"
	"fleetwatch/internal/telemetry"

	"go.uber.org/zap"
)

// Options configure the async dispatcher.
type Options struct {
	QueueSize int
	LogDir    string // dispatch audit log directory; empty disables it

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Dispatcher delivers notifications off the hot path. Escalation workers
// enqueue and move on; a full queue drops the message rather than stall
// rule evaluation, and the drop is counted.
type Dispatcher struct {
	queue   chan *Message
	webhook *WebhookNotifier
	email   *EmailNotifier
	logDir  string
	wg      sync.WaitGroup
	once    sync.Once
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	d := &Dispatcher{
		queue:   make(chan *Message, opts.QueueSize),
		webhook: NewWebhookNotifier(10 * time.Second),
		logDir:  opts.LogDir,
	}
	if opts.SMTPHost != "" {
		d.email = NewEmailNotifier(opts.SMTPHost, opts.SMTPPort, opts.SMTPUsername, opts.SMTPPassword, opts.SMTPFrom)
	}
	return d
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	if d.logDir != "" {
		if err := logger.InitDispatchLog(d.logDir); err != nil {
			logger.Log.Warn("dispatch audit log disabled", zap.Error(err))
			d.logDir = ""
		}
	}
	d.wg.Add(1)
	go d.run()
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Dispatcher) Stop() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Enqueue hands a message to the delivery worker. Never blocks.
func (d *Dispatcher) Enqueue(msg *Message) {
	select {
	case d.queue <- msg:
	default:
		telemetry.NotificationsDropped.Inc()
		logger.Log.Warn("notification queue full, dropping",
			zap.String("alert_id", msg.Alert.ID),
			zap.String("target_type", msg.TargetType))
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg *Message) {
	var err error
	switch msg.TargetType {
	case models.EscalationTargetWebhook:
		err = d.webhook.Send(msg)
	case models.EscalationTargetEmail:
		if d.email == nil {
			logger.Log.Warn("email notification skipped, SMTP not configured",
				zap.String("alert_id", msg.Alert.ID))
			return
		}
		err = d.email.Send(msg)
	default:
		logger.Log.Warn("unknown notification target type",
			zap.String("target_type", msg.TargetType),
			zap.String("alert_id", msg.Alert.ID))
		return
	}

	if err != nil {
		logger.Log.Error("notification delivery failed",
			zap.String("alert_id", msg.Alert.ID),
			zap.String("target_type", msg.TargetType),
			zap.Error(err))
		return
	}

	logger.Log.Info("notification delivered",
		zap.String("alert_id", msg.Alert.ID),
		zap.String("target_type", msg.TargetType),
		zap.Int("level", msg.Level))

	if d.logDir != "" {
		entry := &logger.DispatchLogEntry{
			AlertID:    msg.Alert.ID,
			TenantID:   msg.Alert.TenantID,
			DeviceID:   msg.Alert.DeviceID,
			Severity:   models.SeverityName(msg.Alert.Severity),
			TargetType: msg.TargetType,
			Target:     msg.Target,
			Level:      msg.Level,
			Summary:    msg.Alert.Summary,
		}
		if err := logger.WriteDispatchLog(d.logDir, entry); err != nil {
			logger.Log.Warn("failed to write dispatch audit log", zap.Error(err))
		}
	}
}
