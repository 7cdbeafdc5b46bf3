package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/trendrbot/trendrbot/internal/assistant"
	"github.com/trendrbot/trendrbot/internal/generation"
	"github.com/trendrbot/trendrbot/internal/query"
)

type askRequest struct {
	Question string `json:"question"`
}

type sourceResponse struct {
	Label string `json:"label"`
	Table string `json:"table"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, err := deps.Assistant.Ask(r.Context(), req.Question)
	if err != nil {
		writeAskError(w, r, answer, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func writeAskError(w http.ResponseWriter, r *http.Request, answer assistant.Answer, err error) {
	extra := map[string]any{"ask_id": answer.ID}
	if answer.Route != "" {
		extra["route"] = answer.Route
	}

	var execErr *query.ExecError
	switch {
	case errors.Is(err, assistant.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
	case errors.As(err, &execErr):
		extra["kind"] = execErr.Kind.String()
		if answer.Source != "" {
			extra["source"] = answer.Source
		}
		writeError(r.Context(), w, http.StatusBadGateway, "QUERY_FAILED", execErr.Error(), query.Retryable(err), extra)
	case errors.Is(err, generation.ErrBlocked):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "GENERATION_BLOCKED", err.Error(), false, extra)
	default:
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", err.Error(), true, extra)
	}
}

func handleSources(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	catalog := deps.Assistant.Catalog()
	sources := make([]sourceResponse, 0, len(catalog.Sources))
	for _, source := range catalog.Sources {
		sources = append(sources, sourceResponse{Label: source.Label, Table: source.Table})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":        sources,
		"countries":      catalog.Countries,
		"country_source": catalog.CountrySource,
	})
}
