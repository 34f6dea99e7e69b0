package deadletter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/measurement"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Point is the stored form of one measurement.
type Point struct {
	Kind       string    `json:"kind"`
	Value      float64   `json:"value"`
	Sensor     string    `json:"sensor"`
	Location   string    `json:"location"`
	ObservedAt time.Time `json:"observed_at"`
}

// Entry is one dropped batch.
type Entry struct {
	ID        int64     `json:"id"`
	BatchID   string    `json:"batch_id"`
	Reason    string    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	Points    []Point   `json:"points"`
	SealedAt  time.Time `json:"sealed_at"`
	DroppedAt time.Time `json:"dropped_at"`
}

// Measurements converts the stored points back for replay. Points whose
// kind is no longer recognised are skipped.
func (e Entry) Measurements() []measurement.Measurement {
	out := make([]measurement.Measurement, 0, len(e.Points))
	for _, p := range e.Points {
		kind, ok := measurement.ParseKind(p.Kind)
		if !ok {
			continue
		}
		out = append(out, measurement.Measurement{
			Kind:       kind,
			Value:      p.Value,
			Sensor:     p.Sensor,
			Location:   p.Location,
			ObservedAt: p.ObservedAt,
		})
	}
	return out
}

// PointsFrom converts measurements into their stored form.
func PointsFrom(ms []measurement.Measurement) []Point {
	points := make([]Point, len(ms))
	for i, m := range ms {
		points[i] = Point{
			Kind:       m.Kind.String(),
			Value:      m.Value,
			Sensor:     m.Sensor,
			Location:   m.Location,
			ObservedAt: m.ObservedAt.UTC(),
		}
	}
	return points
}

// Filter controls which entries List returns.
type Filter struct {
	Reason string    // optional: only this drop reason
	Since  time.Time // optional: dropped at or after
	Limit  int       // default 50, max 500
}

// Repository defines the dead-letter store operations.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository stores entries in the dead_letters table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an opened, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e and sets its ID. DroppedAt defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.DroppedAt.IsZero() {
		e.DroppedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e.Points)
	if err != nil {
		return fmt.Errorf("marshalling dead letter points: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO dead_letters (batch_id, reason, error, point_count, payload, sealed_at, dropped_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.BatchID, e.Reason, e.Error, len(e.Points), string(payload),
		e.SealedAt.UTC().Format(timeLayout),
		e.DroppedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading dead letter id: %w", err)
	}
	e.ID = id
	return nil
}

// List returns entries matching filter, oldest first so replay keeps order.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 { //nolint:mnd // max page size
		filter.Limit = 500
	}

	var conditions []string
	var args []any
	if filter.Reason != "" {
		conditions = append(conditions, "reason = ?")
		args = append(args, filter.Reason)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "dropped_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, batch_id, reason, error, payload, sealed_at, dropped_at FROM dead_letters %s ORDER BY id ASC LIMIT ?",
		where,
	)
	args = append(args, filter.Limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var payload, sealedAt, droppedAt string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Reason, &e.Error, &payload, &sealedAt, &droppedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &e.Points); err != nil {
			return nil, fmt.Errorf("decoding dead letter %d payload: %w", e.ID, err)
		}
		if e.SealedAt, err = time.Parse(timeLayout, sealedAt); err != nil {
			return nil, fmt.Errorf("parsing dead letter %d sealed_at: %w", e.ID, err)
		}
		if e.DroppedAt, err = time.Parse(timeLayout, droppedAt); err != nil {
			return nil, fmt.Errorf("parsing dead letter %d dropped_at: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letters: %w", err)
	}
	return entries, nil
}

// Delete removes one entry, typically after it has been replayed.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting dead letter: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
