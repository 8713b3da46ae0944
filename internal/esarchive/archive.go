package esarchive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// Alert lifecycle event types archived to Elasticsearch.
const (
	EventOpened       = "opened"
	EventCleared      = "cleared"
	EventAcknowledged = "acknowledged"
	EventClosed       = "closed"
	EventSilenced     = "silenced"
)

// Event 告警生命周期事件（写入按日期滚动的索引）
type Event struct {
	EventType   string    `json:"event_type"`
	AlertID     string    `json:"alert_id"`
	TenantID    string    `json:"tenant_id"`
	RuleID      string    `json:"rule_id"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Severity    int       `json:"severity"`
	Status      string    `json:"status"`
	Actor       string    `json:"actor,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Timestamp   time.Time `json:"@timestamp"`
}

// Archiver ships alert lifecycle events to Elasticsearch off the hot
// path. Nil-safe: with ES disabled every method is a no-op, so callers
// never branch on it.
type Archiver struct {
	es     *elasticsearch.Client
	config config.ElasticsearchConfig
	queue  chan *Event
	wg     sync.WaitGroup
	once   sync.Once
}

func NewArchiver(cfg config.ElasticsearchConfig, es *elasticsearch.Client) *Archiver {
	if !cfg.Enabled || es == nil {
		return nil
	}
	return &Archiver{
		es:     es,
		config: cfg,
		queue:  make(chan *Event, 1024),
	}
}

// NewESClient builds the shared Elasticsearch client and checks the
// connection. Returns nil when ES is disabled.
func NewESClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	logger.Log.Info("Elasticsearch client initialized successfully")
	return es, nil
}

func (a *Archiver) Start() {
	if a == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for event := range a.queue {
			if err := a.index(event); err != nil {
				logger.Log.Warn("failed to archive alert event", zap.Error(err))
			}
		}
	}()
}

func (a *Archiver) Stop() {
	if a == nil {
		return
	}
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

// Record enqueues one event. Never blocks; a full queue drops the event,
// the alert row in the database stays authoritative either way.
func (a *Archiver) Record(event *Event) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case a.queue <- event:
	default:
		logger.Log.Warn("alert event archive queue full, dropping",
			zap.String("alert_id", event.AlertID))
	}
}

// AlertOpened implements the engine event sink.
func (a *Archiver) AlertOpened(alert *models.Alert, device *models.Device) {
	if a == nil {
		return
	}
	name := ""
	if device != nil {
		name = device.Name
	}
	a.Record(&Event{
		EventType:   EventOpened,
		AlertID:     alert.ID,
		TenantID:    alert.TenantID,
		RuleID:      alert.RuleID,
		DeviceID:    alert.DeviceID,
		DeviceName:  name,
		Fingerprint: alert.Fingerprint,
		Severity:    alert.Severity,
		Status:      alert.Status,
		Summary:     alert.Summary,
	})
}

// AlertCleared implements the engine event sink.
func (a *Archiver) AlertCleared(alert *models.Alert) {
	if a == nil {
		return
	}
	a.Record(&Event{
		EventType:   EventCleared,
		AlertID:     alert.ID,
		TenantID:    alert.TenantID,
		RuleID:      alert.RuleID,
		DeviceID:    alert.DeviceID,
		Fingerprint: alert.Fingerprint,
		Severity:    alert.Severity,
		Status:      alert.Status,
		Actor:       models.SystemActor,
	})
}

// Transition records a lifecycle change performed through the API.
func (a *Archiver) Transition(eventType string, alert *models.Alert, actor string) {
	if a == nil {
		return
	}
	a.Record(&Event{
		EventType:   eventType,
		AlertID:     alert.ID,
		TenantID:    alert.TenantID,
		RuleID:      alert.RuleID,
		DeviceID:    alert.DeviceID,
		Fingerprint: alert.Fingerprint,
		Severity:    alert.Severity,
		Status:      alert.Status,
		Actor:       actor,
		Summary:     alert.Summary,
	})
}

func (a *Archiver) index(event *Event) error {
	// 按日期滚动索引
	indexName := fmt.Sprintf("%s-alerts-%s", a.config.IndexPrefix, event.Timestamp.Format("2006.01.02"))

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	req := esapi.IndexRequest{
		Index: indexName,
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(context.Background(), a.es)
	if err != nil {
		return fmt.Errorf("failed to index alert event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.String())
	}
	return nil
}

// CreateIndexTemplate installs the mapping for the alert event indices.
func (a *Archiver) CreateIndexTemplate() error {
	if a == nil {
		return nil
	}

	templateName := fmt.Sprintf("%s-alerts-template", a.config.IndexPrefix)

	template := map[string]interface{}{
		"index_patterns": []string{fmt.Sprintf("%s-alerts-*", a.config.IndexPrefix)},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"refresh_interval":   "5s",
			},
			"mappings": map[string]interface{}{
				"properties": map[string]interface{}{
					"event_type":  map[string]string{"type": "keyword"},
					"alert_id":    map[string]string{"type": "keyword"},
					"tenant_id":   map[string]string{"type": "keyword"},
					"rule_id":     map[string]string{"type": "keyword"},
					"device_id":   map[string]string{"type": "keyword"},
					"device_name": map[string]string{"type": "keyword"},
					"fingerprint": map[string]string{"type": "keyword"},
					"severity":    map[string]string{"type": "integer"},
					"status":      map[string]string{"type": "keyword"},
					"actor":       map[string]string{"type": "keyword"},
					"summary":     map[string]string{"type": "text"},
					"@timestamp":  map[string]string{"type": "date"},
				},
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	req := esapi.IndicesPutIndexTemplateRequest{
		Name: templateName,
		Body: bytes.NewReader(body),
	}

	res, err := req.Do(context.Background(), a.es)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		logger.Log.Warn(fmt.Sprintf("Failed to create index template: %s", res.String()))
	} else {
		logger.Log.Info(fmt.Sprintf("Index template created: %s", templateName))
	}
	return nil
}
