// Package rowstatus owns the per-row status column of the source worksheet.
//
// A row starts UNPROCESSED (blank status cell). After its batch completes the
// row is marked DONE, ERROR, or SKIP. Every state except DONE is picked up
// again by LoadUnprocessed, which makes re-running the pipeline after a crash
// or a partial failure safe. Only an explicit Reset moves a DONE row back.
package rowstatus
