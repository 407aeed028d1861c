// Package calibration defines the types shared by the sequencers, the daemon
// and the CLI. It contains:
//
//   - Record: one numbered calibration step as written to the audit trail
//   - Procedure and Phase: what a run does and where it currently is
//   - State: the runtime state of the current run kept by the daemon
//   - Status: a synthesized view model returned by the HTTP API
//
// Keeping them here keeps the JSON contract between daemon and client in one
// place.
package calibration
