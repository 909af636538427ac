// Package ratelimit implements the sliding-window budgets that keep LLM calls
// under the provider's requests-per-minute and tokens-per-minute limits.
//
// A Window admits a cost only when the sum of costs recorded during the
// trailing window plus the new cost fits within capacity. Callers that do not
// fit sleep until the oldest entry ages out (never less than MinWait) and try
// again. The mutex only guards the queue bookkeeping; sleeping happens outside
// the lock so independent callers keep making progress.
package ratelimit
