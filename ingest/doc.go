// Package ingest drives the import of an event from the external timing
// worker and tracks how deep that import has gone.
//
// An Orchestrator submits a job through a JobClient, polls it on a fixed
// interval within an attempt budget and a wall-clock timeout, and records
// the event's new depth only once the worker confirms a stage. Failures are
// reported on the Outcome together with whether a retry is likely to help,
// as decided by IsRecoverable.
package ingest
