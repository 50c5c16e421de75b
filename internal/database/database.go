package database

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"cropsight/internal/pipeline"
)

// Database handles SQLite storage of per-run flight results
type Database struct {
	db *sql.DB
}

// ResultRecord represents one detection row as stored on disk
type ResultRecord struct {
	Frame          int
	TrackID        int
	Class          string
	BBox           string
	Confidence     float64
	FlightDuration string
}

// TrackSummary is the highest-confidence observation of one track
type TrackSummary struct {
	TrackID    int
	Class      string
	Confidence float64
}

var _ pipeline.ObservationStore = (*Database)(nil)

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so report readers do not block the writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS flight_results (
			Frame INTEGER NOT NULL,
			ID INTEGER NOT NULL,
			Class TEXT NOT NULL,
			BBox TEXT NOT NULL,
			Confidence REAL NOT NULL,
			FlightDuration TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flight_results_track ON flight_results(ID)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// WriteBatch appends one row per observation inside a single transaction.
// Confidence is rounded to four decimal places on the way in; the bounding
// box is stored as a comma-joined coordinate string.
func (d *Database) WriteBatch(obs []pipeline.Observation, flightDuration string) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO flight_results (Frame, ID, Class, BBox, Confidence, FlightDuration)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range obs {
		_, err := stmt.Exec(o.FrameIndex, o.TrackID, o.Class, FormatBBox(o.BBox), roundConfidence(o.Confidence), flightDuration)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// Results returns every stored row in insertion order
func (d *Database) Results() ([]*ResultRecord, error) {
	query := `SELECT Frame, ID, Class, BBox, Confidence, FlightDuration FROM flight_results ORDER BY rowid`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*ResultRecord
	for rows.Next() {
		var rec ResultRecord
		if err := rows.Scan(&rec.Frame, &rec.TrackID, &rec.Class, &rec.BBox, &rec.Confidence, &rec.FlightDuration); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, &rec)
	}
	return results, rows.Err()
}

// TrackSummaries returns one row per track carrying the class and
// confidence of that track's highest-confidence observation.
func (d *Database) TrackSummaries() ([]*TrackSummary, error) {
	query := `SELECT ID, Class, MAX(Confidence) FROM flight_results GROUP BY ID ORDER BY ID`

	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tracks: %w", err)
	}
	defer rows.Close()

	var summaries []*TrackSummary
	for rows.Next() {
		var ts TrackSummary
		if err := rows.Scan(&ts.TrackID, &ts.Class, &ts.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan track summary: %w", err)
		}
		summaries = append(summaries, &ts)
	}
	return summaries, rows.Err()
}

// FlightDuration returns the flight duration stamped on the stored rows,
// or "" for an empty database.
func (d *Database) FlightDuration() (string, error) {
	var duration string
	err := d.db.QueryRow("SELECT FlightDuration FROM flight_results LIMIT 1").Scan(&duration)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get flight duration: %w", err)
	}
	return duration, nil
}

// Count returns the number of stored rows
func (d *Database) Count() (int, error) {
	var n int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM flight_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// FormatBBox renders a bounding box as the comma-joined coordinate string
// stored in the BBox column, e.g. "12.5,3,100,88.25".
func FormatBBox(b pipeline.BBox) string {
	coords := []float32{b.XMin, b.YMin, b.XMax, b.YMax}
	parts := make([]string, len(coords))
	for i, v := range coords {
		parts[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
	}
	return strings.Join(parts, ",")
}

func roundConfidence(c float32) float64 {
	return math.Round(float64(c)*10000) / 10000
}
