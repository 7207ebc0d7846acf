// Package journal keeps an append-only record of what a simulation run
// attempted: position events, notification fetches, push dispatches and
// completed legs.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcloughlin/geohash"

	"github.com/kilianp07/routesim/core/model"
)

// Kind classifies a record.
type Kind string

const (
	KindPosition Kind = "position"
	KindFetch    Kind = "notification_fetch"
	KindPush     Kind = "push"
	KindLeg      Kind = "leg"
)

// Record is one journal entry.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Leg       int       `json:"leg"`
	Kind      Kind      `json:"kind"`
	VehicleID int64     `json:"vehicle_id"`
	Lat       float64   `json:"lat,omitempty"`
	Lon       float64   `json:"lon,omitempty"`
	Geohash   string    `json:"geohash,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
}

// PositionRecord builds the record for a sent position event.
func PositionRecord(runID string, leg int, ev model.PositionEvent, ts time.Time) Record {
	return Record{
		Timestamp: ts,
		RunID:     runID,
		Leg:       leg,
		Kind:      KindPosition,
		VehicleID: ev.VehicleID,
		Lat:       ev.Lat,
		Lon:       ev.Lon,
		Geohash:   geohash.Encode(ev.Lat, ev.Lon),
		EventType: ev.Type.String(),
		Direction: ev.Direction.String(),
		Success:   true,
	}
}

// Query defines filters for retrieving records. Zero values match all.
type Query struct {
	Start time.Time
	End   time.Time
	RunID string
	Kind  Kind
}

// Match reports whether r satisfies the query.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	return true
}

// Store persists records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore drops every record.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }

// Config selects and tunes the journal backend.
type Config struct {
	// Backend is "", "jsonl" or "sqlite". Empty disables the journal.
	Backend    string `json:"backend" validate:"omitempty,oneof=jsonl sqlite"`
	Path       string `json:"path" validate:"required_with=Backend"`
	MaxSizeMB  int    `json:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `json:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `json:"max_age_days" validate:"gte=0"`
}

// Open returns the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "":
		return NopStore{}, nil
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown journal backend %s", cfg.Backend)
	}
}
