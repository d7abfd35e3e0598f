package coordinator

import (
	"time"

	"github.com/ShayCichocki/tierci/pkg/models"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventRunStarted indicates a run was accepted and is about to execute.
	EventRunStarted EventType = "run_started"
	// EventTierStarted indicates a tier's jobs are being created.
	EventTierStarted EventType = "tier_started"
	// EventJobUpdated indicates a job changed state.
	EventJobUpdated EventType = "job_updated"
	// EventTierFinished indicates a tier aggregated.
	EventTierFinished EventType = "tier_finished"
	// EventArtifactsPublished indicates artifacts were handed to storage.
	EventArtifactsPublished EventType = "artifacts_published"
	// EventRunFinished indicates the run reached its verdict.
	EventRunFinished EventType = "run_finished"
)

// Event is emitted by the coordinator as runs progress. It is used to
// drive the TUI and live status.
type Event struct {
	Type      EventType
	RunID     string
	Pipeline  string
	Trigger   string
	Timestamp time.Time

	// Tier and TierName are set for tier and job events.
	Tier     int
	TierName string
	// TierCount is the number of tiers in the pipeline (run_started).
	TierCount int

	// Job is set for job_updated.
	Job *models.Job
	// Aggregate is set for tier_finished.
	Aggregate models.TierAggregate
	// Verdict is set for run_finished.
	Verdict models.Verdict
	// Publication is set for artifacts_published.
	Publication *models.PublicationOutcome

	// Message provides additional context, e.g. a skip reason or the summary.
	Message string
}
