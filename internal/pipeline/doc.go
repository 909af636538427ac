// Package pipeline drives one compintel run: it takes the run lock, crawls
// news into the crawl worksheet, extracts partnerships from unprocessed rows
// with the LLM, and matches extracted partners against the corporate
// registry.
//
// Stage failures are collected and reported together at the end of the run
// so a broken crawl does not prevent extraction of rows already collected.
// Only context cancellation and configuration errors stop the run early.
package pipeline
