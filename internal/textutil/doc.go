// Package textutil provides the text helpers shared by extraction and
// registry matching.
//
// The primary use cases are:
//   - Pulling publication dates out of news titles and normalizing them to YY.MM.DD
//   - Normalizing company names for exact registry lookup
//   - Character-bigram fingerprints and cosine similarity for fuzzy candidates
//
// Fingerprints are bigram frequency vectors. The registry weights them by IDF
// computed over a Corpus of every registry name, so bigrams shared by many
// companies count for less.
package textutil
