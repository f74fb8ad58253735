package controlapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sentinel/internal/sentinel"
)

type answerRequest struct {
	Value string `json:"value"`
}

func (a *API) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	prompts := []sentinel.Prompt{}
	if a.prompts != nil {
		prompts = append(prompts, a.prompts.Pending()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

func (a *API) handleAnswerPrompt(w http.ResponseWriter, r *http.Request) {
	if a.prompts == nil {
		http.Error(w, `{"error":"operator prompts are disabled"}`, http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	if err := a.prompts.Answer(id, req.Value); err != nil {
		if errors.Is(err, sentinel.ErrPromptNotFound) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		a.logger.Error(r.Context(), err, "failed to answer prompt", "prompt_id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	a.logger.Info(r.Context(), "operator answered prompt", "prompt_id", id, "declined", req.Value == "")
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
