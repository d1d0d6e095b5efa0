// Package postgres is the historian storage backend. It appends the
// daemon's event stream and signal change history to Postgres so operator
// tooling can query past scans after the fact.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/relogix/scand/internal/config"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64          `json:"event_id"`
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   *string        `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Engine    string         `json:"engine"`
}

// SignalRow represents one recorded signal change.
type SignalRow struct {
	Timestamp time.Time `json:"ts"`
	Signal    string    `json:"signal"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Revision  uint64    `json:"revision"`
	Engine    string    `json:"engine"`
}

// Client manages the Postgres connection for the historian.
type Client struct {
	db     *sql.DB
	engine string
}

// New creates a historian client using the PG* environment variables.
// PGPASSWORD honours the _FILE secret convention.
func New(engineName string) (*Client, error) {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "scand")
	dbname := getEnv("PGDATABASE", "scand")
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return nil, err
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db, engine: engineName}
	if err := client.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create historian tables: %w", err)
	}
	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS events (
			event_id BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			event    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB,
			engine   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_engine ON events(engine);

		CREATE TABLE IF NOT EXISTS signal_history (
			id       BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			signal   TEXT NOT NULL,
			kind     TEXT NOT NULL,
			value    TEXT NOT NULL,
			revision BIGINT NOT NULL,
			engine   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signal_history_ts ON signal_history(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_signal_history_signal ON signal_history(signal);
	`
	_, err := c.db.Exec(query)
	return err
}

// AppendEvent inserts one event row.
func (c *Client) AppendEvent(ts time.Time, level, event, msg string, fields map[string]any) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, engine)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.engine)
	return err
}

// AppendSignal inserts one signal change row.
func (c *Client) AppendSignal(ts time.Time, signal, kind, value string, revision uint64) error {
	query := `
		INSERT INTO signal_history (ts, signal, kind, value, revision, engine)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.Exec(query, ts, signal, kind, value, revision, c.engine)
	return err
}

// QueryEvents returns the last N events, newest first.
func (c *Client) QueryEvents(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, engine
		FROM events
		WHERE engine = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.engine, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.Engine); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// QuerySignal returns the last N changes of one signal, newest first.
func (c *Client) QuerySignal(signal string, limit int) ([]SignalRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT ts, signal, kind, value, revision, engine
		FROM signal_history
		WHERE engine = $1 AND signal = $2
		ORDER BY ts DESC
		LIMIT $3
	`
	rows, err := c.db.Query(query, c.engine, signal, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRow
	for rows.Next() {
		var r SignalRow
		if err := rows.Scan(&r.Timestamp, &r.Signal, &r.Kind, &r.Value, &r.Revision, &r.Engine); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
