// Package registry maps the partner names extracted by the LLM onto the
// official DART corporate registry.
//
// The registry is the corpCode.xml archive published by the DART open API. It
// is downloaded once, cached as CSV, and indexed by normalized name. Exact
// matches are written to the mapping worksheet; partners without one are
// listed on the unmatched worksheet together with the closest registry name
// so an operator can review them by hand.
package registry
