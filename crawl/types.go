// CLAUDE:SUMMARY Public aliases of internal store and coordinator types exposed by the Service API.
package crawl

import (
	"github.com/hazyhaar/boothcrawl/crawl/internal/coordinator"
	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// Source is a configured crawl target with its health.
type Source = store.Source

// Health is a source's run state.
type Health = store.Health

// Booth is a stored, deduplicated booth.
type Booth = store.Booth

// Metric is one source run record.
type Metric = store.Metric

// Stats holds aggregate counters.
type Stats = store.Stats

// RunOptions alter a run: Force re-extracts unchanged content, Replay
// extracts stored content without fetching.
type RunOptions = coordinator.RunOptions

// Summary is the result of a run, one source or many.
type Summary = coordinator.Summary

// Report is the result of one source run.
type Report = coordinator.Report

// Event is one progress notification.
type Event = coordinator.Event

// Sink receives progress events from worker goroutines.
type Sink = coordinator.Sink

// Event types.
const (
	EventSourceStarted  = coordinator.EventSourceStarted
	EventStage          = coordinator.EventStage
	EventRetry          = coordinator.EventRetry
	EventSourceFinished = coordinator.EventSourceFinished
	EventSummary        = coordinator.EventSummary
)

// Run statuses.
const (
	StatusSuccess = coordinator.StatusSuccess
	StatusPartial = coordinator.StatusPartial
	StatusError   = coordinator.StatusError
	StatusAborted = coordinator.StatusAborted
)
