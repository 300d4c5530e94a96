// Package instrumentation defines the behaviors the engine reports metrics
// through, independent of the backend those metrics are shipped to.
package instrumentation

import "time"

// Instrumentation describes the metrics the engine and database report.
type Instrumentation interface {
	CommandProcessed(verb string)               // called once per dispatched command
	CommandDuration(verb string, d time.Duration) // time spent executing the command
	KeyExpired(family string)                   // the engine calls this once per database whose periodic sweep removed keys, with family "sweep"; lazy deletions are not reported
	SnapshotAttempted()                         // called when a bgsave actually begins writing
	SnapshotSucceeded(d time.Duration)           // the background snapshot write completed
	SnapshotFailed()                            // the background snapshot write failed
}

// NopInstrumentation satisfies Instrumentation but does no work.
type NopInstrumentation struct{}

// CommandProcessed satisfies Instrumentation but does no work.
func (NopInstrumentation) CommandProcessed(string) {}

// CommandDuration satisfies Instrumentation but does no work.
func (NopInstrumentation) CommandDuration(string, time.Duration) {}

// KeyExpired satisfies Instrumentation but does no work.
func (NopInstrumentation) KeyExpired(string) {}

// SnapshotAttempted satisfies Instrumentation but does no work.
func (NopInstrumentation) SnapshotAttempted() {}

// SnapshotSucceeded satisfies Instrumentation but does no work.
func (NopInstrumentation) SnapshotSucceeded(time.Duration) {}

// SnapshotFailed satisfies Instrumentation but does no work.
func (NopInstrumentation) SnapshotFailed() {}

var _ Instrumentation = NopInstrumentation{}
