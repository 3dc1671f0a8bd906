package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

type chatRequest struct {
	Q string `json:"q"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

// answer is a keyword-matched help text, not a conversational model.
func answer(q string) string {
	text := strings.ToLower(q)
	switch {
	case strings.Contains(text, "report"):
		return "Reports can be generated from the dashboard with the report button."
	case strings.Contains(text, "how"), strings.Contains(text, "what"):
		return "Record a steady 3 to 5 second vowel and upload it. You will get a risk score and a per-user timeline."
	}
	return "This assistant only answers basic questions about recording and reports."
}

func (h *Handlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Q) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer(req.Q)})
}
