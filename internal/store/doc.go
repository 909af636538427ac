// Package store provides the tabular workbook every stage reads and writes.
//
// Two backends implement Workbook: Google Sheets (the system of record in
// production) and a local SQLite file with the same row/column semantics,
// used for offline runs and tests. Writes to a table are serialized per
// table name because spreadsheet appends are not transactional.
package store
