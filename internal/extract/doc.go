// Package extract turns source article rows into partnership records.
//
// Rows for one competitor are cut into fixed-size batches. Each batch is
// rendered into a single prompt, sent through the LLM client, and the CSV
// reply is reconciled against the batch's own titles and URLs. The scheduler
// bounds how many batches are outstanding, persists records before it writes
// row statuses, and never lets one batch's failure stop the others.
package extract
