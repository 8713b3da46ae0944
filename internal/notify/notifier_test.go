package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = logger.Init("error", "stderr")
	os.Exit(m.Run())
}

func sampleAlert() *models.Alert {
	return &models.Alert{
		ID:           "a1",
		TenantID:     "t1",
		RuleID:       "r1",
		DeviceID:     "d1",
		Status:       models.AlertStatusOpen,
		Severity:     2,
		Summary:      "temperature above 80",
		Details:      `{"observed":95.2}`,
		TriggerCount: 3,
		CreatedAt:    time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestMessage_Title(t *testing.T) {
	msg := &Message{Alert: sampleAlert()}
	assert.Equal(t, "[ALERT][HIGH] temperature above 80", msg.Title())

	msg.Level = 2
	assert.Equal(t, "[ESCALATION L2][HIGH] temperature above 80", msg.Title())
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := &Message{Alert: sampleAlert(), DeviceName: "sensor-7", TargetType: models.EscalationTargetWebhook, Target: srv.URL, Level: 1}
	require.NoError(t, NewWebhookNotifier(time.Second).Send(msg))

	assert.Equal(t, "a1", got["alert_id"])
	assert.Equal(t, "sensor-7", got["device_name"])
	assert.Equal(t, float64(1), got["level"])
	assert.Equal(t, map[string]interface{}{"observed": 95.2}, got["details"])
}

func TestWebhookNotifier_SendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	msg := &Message{Alert: sampleAlert(), Target: srv.URL}
	assert.Error(t, NewWebhookNotifier(time.Second).Send(msg))
}

func TestDetailsOrNull(t *testing.T) {
	assert.Equal(t, "null", detailsOrNull(""))
	assert.Equal(t, "null", detailsOrNull("not json"))
	assert.Equal(t, `{"a":1}`, detailsOrNull(`{"a":1}`))
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	received := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		received <- payload["alert_id"].(string)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{QueueSize: 8})
	d.Start()
	d.Enqueue(&Message{Alert: sampleAlert(), TargetType: models.EscalationTargetWebhook, Target: srv.URL})
	// Stop 先排空队列再返回
	d.Stop()

	select {
	case id := <-received:
		assert.Equal(t, "a1", id)
	default:
		t.Fatal("notification was not delivered")
	}
}
