package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"fleetwatch/internal/models"
)

// Notifier delivers one rendered notification to one target.
type Notifier interface {
	Send(msg *Message) error
}

// Message is a notification ready for delivery. Level is 0 for the
// initial page and matches the escalation level_order afterwards.
type Message struct {
	Alert      *models.Alert
	DeviceName string
	TargetType string // webhook, email
	Target     string // URL or address, already resolved
	Level      int
}

// Title renders the subject line.
func (m *Message) Title() string {
	prefix := "ALERT"
	if m.Level > 0 {
		prefix = fmt.Sprintf("ESCALATION L%d", m.Level)
	}
	return fmt.Sprintf("[%s][%s] %s", prefix, strings.ToUpper(models.SeverityName(m.Alert.Severity)), m.Alert.Summary)
}

// Body renders the plain-text body shared by all channels.
func (m *Message) Body() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("【设备告警】%s\n", m.Alert.Summary))
	sb.WriteString(fmt.Sprintf("设备: %s (%s)\n", m.DeviceName, m.Alert.DeviceID))
	sb.WriteString(fmt.Sprintf("级别: %s\n", models.SeverityName(m.Alert.Severity)))
	sb.WriteString(fmt.Sprintf("状态: %s\n", m.Alert.Status))
	sb.WriteString(fmt.Sprintf("触发次数: %d\n", m.Alert.TriggerCount))
	sb.WriteString(fmt.Sprintf("首次触发: %s\n", m.Alert.CreatedAt.Format("2006-01-02 15:04:05")))
	if m.Alert.Details != "" {
		sb.WriteString(fmt.Sprintf("\n详细信息:\n%s\n", m.Alert.Details))
	}
	return sb.String()
}

// WebhookNotifier POSTs the alert as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	client *http.Client
}

func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{client: &http.Client{Timeout: timeout}}
}

func (w *WebhookNotifier) Send(msg *Message) error {
	payload := map[string]interface{}{
		"alert_id":      msg.Alert.ID,
		"tenant_id":     msg.Alert.TenantID,
		"rule_id":       msg.Alert.RuleID,
		"device_id":     msg.Alert.DeviceID,
		"device_name":   msg.DeviceName,
		"severity":      msg.Alert.Severity,
		"severity_name": models.SeverityName(msg.Alert.Severity),
		"status":        msg.Alert.Status,
		"summary":       msg.Alert.Summary,
		"details":       json.RawMessage(detailsOrNull(msg.Alert.Details)),
		"trigger_count": msg.Alert.TriggerCount,
		"level":         msg.Level,
		"created_at":    msg.Alert.CreatedAt,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := w.client.Post(msg.Target, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notification failed with status: %d", resp.StatusCode)
	}
	return nil
}

func detailsOrNull(details string) string {
	if details == "" || !json.Valid([]byte(details)) {
		return "null"
	}
	return details
}

// EmailNotifier sends the alert over SMTP.
type EmailNotifier struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
}

func NewEmailNotifier(host string, port int, username, password, from string) *EmailNotifier {
	return &EmailNotifier{
		SMTPHost:     host,
		SMTPPort:     port,
		SMTPUsername: username,
		SMTPPassword: password,
		From:         from,
	}
}

func (e *EmailNotifier) Send(msg *Message) error {
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s", msg.Title(), msg.Body())
	addr := fmt.Sprintf("%s:%d", e.SMTPHost, e.SMTPPort)

	var auth smtp.Auth
	if e.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.SMTPUsername, e.SMTPPassword, e.SMTPHost)
	}
	return smtp.SendMail(addr, auth, e.From, []string{msg.Target}, []byte(body))
}
