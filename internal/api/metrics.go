package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/relogix/scand/internal/events"
	"github.com/relogix/scand/internal/version"
)

// Metrics state
var metricsState = &MetricsState{}

// MetricsState holds process-level state for the /metrics endpoint.
type MetricsState struct {
	mu         sync.RWMutex
	startTime  time.Time
	engineName string
}

// readiness tracks external dependency health, pushed in by the
// components that own the connections.
var readiness = struct {
	mu                sync.RWMutex
	mqttConnected     bool
	postgresConnected bool
}{}

// InitMetrics initializes the metrics system. Must be called at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

// SetEngineName sets the engine name used in metric labels.
func SetEngineName(name string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.engineName = name
}

// GetEngineName returns the configured engine name.
func GetEngineName() string {
	metricsState.mu.RLock()
	defer metricsState.mu.RUnlock()
	return metricsState.engineName
}

// SetMQTTConnected reports broker connectivity.
func SetMQTTConnected(connected bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mu.Unlock()
}

// SetPostgresConnected reports historian connectivity.
func SetPostgresConnected(connected bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.mu.Unlock()
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	startTime := metricsState.startTime
	engineName := metricsState.engineName
	metricsState.mu.RUnlock()

	readiness.mu.RLock()
	mqttConnected := boolGauge(readiness.mqttConnected)
	postgresConnected := boolGauge(readiness.postgresConnected)
	readiness.mu.RUnlock()

	snap := eng.Metrics().Snapshot()
	running := boolGauge(eng.State().String() == "running")

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric := func(name, mtype, help string, value interface{}, labels string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		if labels != "" {
			fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
		} else {
			fmt.Fprintf(w, "%s %v\n", name, value)
		}
	}

	labels := fmt.Sprintf(`engine="%s",instance="%s",version="%s"`,
		engineName, hostname, version.Version)

	writeMetric("scand_uptime_seconds", "gauge",
		"Number of seconds since the daemon started", time.Since(startTime).Seconds(), labels)
	writeMetric("scand_engine_running", "gauge",
		"Whether the scan loop is running (1) or not (0)", running, labels)
	writeMetric("scand_scans_total", "counter",
		"Total number of completed scans", snap.ScanCount, labels)
	writeMetric("scand_overruns_total", "counter",
		"Total number of scans that exceeded the scan period", snap.OverrunCount, labels)
	writeMetric("scand_block_errors_total", "counter",
		"Total number of block step errors", snap.ErrorCount, labels)
	writeMetric("scand_blocks_executed_total", "counter",
		"Total number of block steps executed", snap.BlocksExecuted, labels)
	writeMetric("scand_scan_duration_last_seconds", "gauge",
		"Duration of the most recent scan", snap.LastScanDuration.Seconds(), labels)
	writeMetric("scand_scan_duration_max_seconds", "gauge",
		"Longest observed scan duration", snap.MaxScanDuration.Seconds(), labels)
	writeMetric("scand_scan_duration_avg_seconds", "gauge",
		"Mean scan duration since startup", snap.AvgScanDuration.Seconds(), labels)
	writeMetric("scand_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount(), labels)
	writeMetric("scand_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", mqttConnected, labels)
	writeMetric("scand_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", postgresConnected, labels)
	writeMetric("scand_ws_clients", "gauge",
		"Number of active WebSocket event subscribers", events.SubscriberCount(), labels)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
