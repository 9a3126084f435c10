package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	supa "github.com/nedpals/supabase-go"
)

const mirrorUploadTimeout = 10 * time.Second

// PostgresMirror optionally mirrors snapshots into a shared Postgres database, for installations that run
// several controllers behind one dashboard (spec's persistence is file-based by default; this is additive).
type PostgresMirror struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresMirror opens a connection to the given DSN.
func NewPostgresMirror(dsn string) (*PostgresMirror, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres mirror: %w", err)
	}
	return &PostgresMirror{db: db, logger: slog.Default()}, nil
}

// UploadSnapshot inserts a row summarizing the snapshot into the "load_scheduler_snapshots" table.
func (m *PostgresMirror) UploadSnapshot(snap Snapshot) error {
	_, err := m.db.Exec(
		`INSERT INTO load_scheduler_snapshots (calculated_at, weather_avg_temp, package) VALUES ($1, $2, $3)`,
		snap.CalculatedAt, snap.WeatherAvgTemp, snap.Package,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot into postgres mirror: %w", err)
	}
	return nil
}

// SupabaseMirror uploads snapshots to a Supabase project, mirroring the teacher's reconnect-on-error,
// timeout-wrapped client idiom.
type SupabaseMirror struct {
	url             string
	anonKey         string
	schema          string
	subClient       *supa.Client
	shouldReconnect bool
	logger          *slog.Logger
}

// NewSupabaseMirror creates a SupabaseMirror that connects lazily on first use.
func NewSupabaseMirror(url, anonKey, schema string) *SupabaseMirror {
	return &SupabaseMirror{
		url:             url,
		anonKey:         anonKey,
		schema:          schema,
		shouldReconnect: true,
		logger:          slog.Default().With("host", url),
	}
}

type supabaseSnapshotRow struct {
	CalculatedAt   time.Time `json:"calculated_at"`
	WeatherAvgTemp float64   `json:"weather_avg_temp"`
	Package        string    `json:"package"`
}

// UploadSnapshot inserts a row into the "load_scheduler_snapshots" table, with a hard timeout since the
// underlying client library has no built-in one.
func (m *SupabaseMirror) UploadSnapshot(snap Snapshot) error {
	m.reconnectIfNecessary()

	row := supabaseSnapshotRow{
		CalculatedAt:   snap.CalculatedAt,
		WeatherAvgTemp: snap.WeatherAvgTemp,
		Package:        snap.Package,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.subClient.DB.From("load_scheduler_snapshots").Insert(row).Execute(nil)
	}()

	select {
	case <-time.After(mirrorUploadTimeout):
		m.shouldReconnect = true
		return errors.New("supabase mirror upload timed out")
	case err := <-errCh:
		if err != nil {
			m.shouldReconnect = true
		}
		return err
	}
}

func (m *SupabaseMirror) reconnectIfNecessary() {
	if !m.shouldReconnect {
		return
	}
	client := supa.CreateClient(m.url, m.anonKey)
	client.DB.AddHeader("Accept-Profile", m.schema)
	client.DB.AddHeader("Content-Profile", m.schema)
	m.subClient = client
	m.shouldReconnect = false
}
