// Package competitors loads the competitor rule table: which companies are
// tracked, which business units they map to, and the per-competitor clauses
// injected into extraction prompts.
//
// The default table is embedded; paths.competitors_file replaces it.
package competitors
