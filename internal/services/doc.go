// Package services defines shared utilities consumed by the pipeline stages
// and the external integrations they drive.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, competitors, and batch
//     labels for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent row statuses (ERROR vs SKIP) and fatal run aborts.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
