package api

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Alert severity levels
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert event types
const (
	AlertMQTTDisconnected    = "mqtt_disconnected"
	AlertPostgresUnavailable = "postgres_unavailable"
	AlertOverrunStorm        = "overrun_storm"
)

// AlertPayload is the JSON structure sent to the webhook.
type AlertPayload struct {
	Engine    string         `json:"engine"`
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AlertConfig holds alert configuration.
type AlertConfig struct {
	WebhookURL              string
	MQTTDisconnectDelay     time.Duration
	PostgresDisconnectDelay time.Duration
	OverrunStormThreshold   uint64 // overruns per check interval
}

var (
	alertConfig = &AlertConfig{
		MQTTDisconnectDelay:     30 * time.Second,
		PostgresDisconnectDelay: 5 * time.Second,
		OverrunStormThreshold:   10,
	}
	alertMu sync.Mutex

	mqttDisconnectedSince   time.Time
	mqttAlertSent           bool
	postgresDisconnectedAt  time.Time
	postgresAlertSent       bool
	lastKnownMQTTState      bool
	lastKnownPostgresState  bool
	lastOverrunCount        uint64
	overrunAlertSent        bool
	alertMonitorInitialized bool
)

// InitAlerts initializes the alert system from environment variables.
func InitAlerts() {
	alertMu.Lock()
	defer alertMu.Unlock()

	alertConfig.WebhookURL = os.Getenv("SCAND_ALERT_WEBHOOK_URL")

	if delayStr := os.Getenv("SCAND_MQTT_ALERT_DELAY"); delayStr != "" {
		if d, err := time.ParseDuration(delayStr); err == nil {
			alertConfig.MQTTDisconnectDelay = d
		}
	}
	if delayStr := os.Getenv("SCAND_POSTGRES_ALERT_DELAY"); delayStr != "" {
		if d, err := time.ParseDuration(delayStr); err == nil {
			alertConfig.PostgresDisconnectDelay = d
		}
	}

	if alertConfig.WebhookURL != "" {
		log.Printf("Alerts enabled: webhook URL configured (mqtt_delay=%s, pg_delay=%s)",
			alertConfig.MQTTDisconnectDelay, alertConfig.PostgresDisconnectDelay)
	}

	// Assume connected at start; the first check corrects this.
	lastKnownMQTTState = true
	lastKnownPostgresState = true
	alertMonitorInitialized = true
}

// GetAlertWebhookURL returns the configured webhook URL (for testing).
func GetAlertWebhookURL() string {
	alertMu.Lock()
	defer alertMu.Unlock()
	return alertConfig.WebhookURL
}

// SendAlert sends an alert to the configured webhook (best-effort, non-blocking).
func SendAlert(event, severity, message string, details map[string]any) {
	alertMu.Lock()
	webhookURL := alertConfig.WebhookURL
	alertMu.Unlock()

	if webhookURL == "" {
		log.Printf("[ALERT] %s severity=%s msg=%q details=%v", event, severity, message, details)
		return
	}

	engineName := GetEngineName()
	if engineName == "" {
		engineName = "unknown"
	}

	payload := AlertPayload{
		Engine:    engineName,
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Severity:  severity,
		Message:   message,
		Details:   details,
	}
	go sendWebhook(webhookURL, payload)
}

// sendWebhook performs the actual HTTP POST (runs in goroutine).
func sendWebhook(url string, payload AlertPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("alert: failed to marshal payload: %v", err)
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("alert: webhook POST failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("alert: webhook returned status %d", resp.StatusCode)
	}
}

// CheckAndAlertMQTT sends an alert when the broker has been gone longer
// than the configured delay, and a recovery notice when it comes back.
func CheckAndAlertMQTT(connected bool) {
	alertMu.Lock()
	defer alertMu.Unlock()

	if !alertMonitorInitialized {
		return
	}

	now := time.Now()
	if connected {
		if !lastKnownMQTTState && mqttAlertSent {
			go SendAlert(AlertMQTTDisconnected, SeverityInfo, "MQTT connection restored", map[string]any{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		mqttDisconnectedSince = time.Time{}
		mqttAlertSent = false
		lastKnownMQTTState = true
		return
	}

	if lastKnownMQTTState {
		mqttDisconnectedSince = now
	}
	lastKnownMQTTState = false

	if !mqttAlertSent && !mqttDisconnectedSince.IsZero() {
		disconnected := now.Sub(mqttDisconnectedSince)
		if disconnected >= alertConfig.MQTTDisconnectDelay {
			mqttAlertSent = true
			go SendAlert(AlertMQTTDisconnected, SeverityWarning,
				"MQTT broker disconnected",
				map[string]any{
					"disconnected_since":   mqttDisconnectedSince.UTC().Format(time.RFC3339),
					"disconnected_seconds": int(disconnected.Seconds()),
				})
		}
	}
}

// CheckAndAlertPostgres sends an alert when the historian database has
// been unavailable longer than the configured delay.
func CheckAndAlertPostgres(connected bool) {
	alertMu.Lock()
	defer alertMu.Unlock()

	if !alertMonitorInitialized {
		return
	}

	now := time.Now()
	if connected {
		if !lastKnownPostgresState && postgresAlertSent {
			go SendAlert(AlertPostgresUnavailable, SeverityInfo, "PostgreSQL connection restored", map[string]any{
				"recovered_at": now.UTC().Format(time.RFC3339),
			})
		}
		postgresDisconnectedAt = time.Time{}
		postgresAlertSent = false
		lastKnownPostgresState = true
		return
	}

	if lastKnownPostgresState {
		postgresDisconnectedAt = now
	}
	lastKnownPostgresState = false

	if !postgresAlertSent && !postgresDisconnectedAt.IsZero() {
		disconnected := now.Sub(postgresDisconnectedAt)
		if disconnected >= alertConfig.PostgresDisconnectDelay {
			postgresAlertSent = true
			go SendAlert(AlertPostgresUnavailable, SeverityCritical,
				"PostgreSQL unavailable",
				map[string]any{
					"disconnected_since":   postgresDisconnectedAt.UTC().Format(time.RFC3339),
					"disconnected_seconds": int(disconnected.Seconds()),
				})
		}
	}
}

// CheckAndAlertOverruns fires when the overrun counter moves faster than
// the threshold between two checks. The alert latches until a calm
// interval passes.
func CheckAndAlertOverruns(overrunCount uint64) {
	alertMu.Lock()
	defer alertMu.Unlock()

	if !alertMonitorInitialized {
		return
	}

	delta := overrunCount - lastOverrunCount
	lastOverrunCount = overrunCount

	if delta >= alertConfig.OverrunStormThreshold {
		if !overrunAlertSent {
			overrunAlertSent = true
			go SendAlert(AlertOverrunStorm, SeverityWarning,
				"scan overruns exceeding threshold",
				map[string]any{
					"overruns_in_interval": delta,
					"overruns_total":       overrunCount,
				})
		}
		return
	}
	overrunAlertSent = false
}

// StartAlertMonitor starts a background goroutine that periodically checks
// dependency and scan-loop health.
func StartAlertMonitor(checkInterval time.Duration) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		for range ticker.C {
			readiness.mu.RLock()
			mqttConnected := readiness.mqttConnected
			postgresConnected := readiness.postgresConnected
			readiness.mu.RUnlock()

			CheckAndAlertMQTT(mqttConnected)
			CheckAndAlertPostgres(postgresConnected)
			if eng != nil {
				CheckAndAlertOverruns(eng.Metrics().OverrunCount())
			}
		}
	}()
}
