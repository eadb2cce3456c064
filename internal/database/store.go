// Package database provides storage backends for the signal pipeline.
package database

import (
	"time"

	"github.com/d-kowalski/signalpipe/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Source operations
	GetActiveSources() ([]model.Source, error)
	GetAllSources() ([]model.Source, error)
	GetSourceByID(id int64) (*model.Source, error)
	CreateSource(s *model.Source) (int64, error)
	GetOrCreateSource(s *model.Source) (int64, bool, error)
	SetSourceActive(id int64, active bool) error
	UpdateSourceLastFetched(id int64, t time.Time) error
	// RecordSourceResult updates the consecutive-failure streak after a
	// run and deactivates the source once the streak reaches threshold.
	// Returns the new streak.
	RecordSourceResult(id int64, ok bool, threshold int) (int, error)

	// Signal operations
	// UpsertSignal writes one signal keyed on url. On conflict only the
	// volatile fields change: score, summary (when non-empty), metadata,
	// updated_at. Returns the row id and whether it was newly created.
	UpsertSignal(sig *model.Signal) (int64, bool, error)
	GetSignals(limit, offset int) ([]model.Signal, error)
	GetSignalByID(id int64) (*model.Signal, error)
	// ClaimUnenriched selects up to limit unenriched signals, newest
	// first, and stamps their claim time so a concurrent engine run
	// cannot pick them up. Claims older than ten minutes are
	// reclaimable.
	ClaimUnenriched(limit int) ([]model.Signal, error)
	CountUnenriched() (int, error)
	UpdateEnrichment(res model.EnrichmentResult) error
	GetUnvalidatedDemandSignals(types []string, since time.Time, limit int) ([]model.Signal, error)
	UpdateDemandValidation(id int64, isValid bool, reason string) error

	// Settings operations
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}
