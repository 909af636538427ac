// Package llm sends extraction prompts to a chat model and returns the raw
// text answer.
//
// # Transports
//
// Two providers sit behind the Transport interface: an OpenAI-compatible chat
// completions endpoint and the Gemini API (google.golang.org/genai). Both
// report HTTP failures as *StatusError.
//
// # Budgets
//
// Before every attempt Client.Call acquires the requests-per-minute limiter
// (cost 1) and then the tokens-per-minute limiter (estimated prompt tokens
// plus max_tokens). A semaphore bounds concurrent requests; the slot is held
// only while a request is in flight.
//
// # Retry Behaviour
//
// 429 responses honour Retry-After (or Gemini RetryInfo) and otherwise back
// off exponentially, except quota exhaustion which aborts. 401, 403 and other
// 4xx responses abort. 5xx and timeouts back off up to 60s, anything else up
// to 30s, each with up to 1.5s jitter. Context cancellation aborts at once.
//
// Aborted or exhausted calls return an error wrapping ErrCallFailed; callers
// mark the batch ERROR and the rows are retried on the next run.
package llm
