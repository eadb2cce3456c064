package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/google/uuid"
)

// NewRunSummary assembles the artifact for one completed run.
func NewRunSummary(startedAt time.Time, stats Stats, validated int) model.RunSummary {
	return model.RunSummary{
		RunID:        uuid.NewString(),
		StartedAt:    startedAt,
		Duration:     time.Since(startedAt).Round(time.Millisecond).String(),
		Total:        stats.Total,
		New:          stats.New,
		Updated:      stats.Updated,
		Errors:       stats.Errors,
		Enriched:     stats.Enriched,
		Validated:    validated,
		StatusCounts: stats.StatusCounts,
		FailureStats: stats.FailureStats,
	}
}

// WriteSummary writes the run artifact to path. This is the one
// failure the entry point is allowed to exit non-zero on.
func WriteSummary(path string, summary model.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
