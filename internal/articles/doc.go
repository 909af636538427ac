// Package articles defines the row-level data model shared by the crawler,
// the extraction stage, and the registry matcher.
//
// A SourceArticle is one row of the crawl worksheet, addressed by its 1-based
// sheet row number. A Record is one partnership assertion that survived
// reconciliation. Status is the per-row processing state written back to the
// source worksheet; DONE rows are never re-processed.
package articles
