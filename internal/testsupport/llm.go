package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// LLMServer is a fake OpenAI-compatible chat completions endpoint.
type LLMServer struct {
	*httptest.Server

	mu      sync.Mutex
	prompts []string
}

// Prompts returns the prompts received so far.
func (s *LLMServer) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// NewLLMServer starts a fake endpoint. respond receives each prompt and
// returns the completion text and HTTP status; a status other than 200 is
// sent with content as the error body.
func NewLLMServer(t testing.TB, respond func(prompt string) (string, int)) *LLMServer {
	t.Helper()

	srv := &LLMServer{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		prompt := req.Messages[len(req.Messages)-1].Content
		srv.mu.Lock()
		srv.prompts = append(srv.prompts, prompt)
		srv.mu.Unlock()

		content, status := respond(prompt)
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(content))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}
