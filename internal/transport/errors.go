package transport

import (
	"encoding/json"
	"net/http"

	"github.com/agentic-research/canvas/internal/ctxlog"
	"github.com/agentic-research/canvas/internal/problem"
)

type errorBody struct {
	Errors []*problem.Problem `json:"errors"`
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	switch k := problem.KindOf(err); {
	case k == problem.NotFound:
		return http.StatusNotFound
	case k == problem.Conflict, k == problem.VersionInUse:
		return http.StatusConflict
	case k.IsValidation():
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, StatusOf(err), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	problems := problem.From(err)
	if len(problems) == 0 {
		// internal details stay in the log
		ctxlog.FromContext(r.Context()).Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		problems = problem.List{{Kind: "Internal", Message: "internal error"}}
	}
	writeJSON(w, status, errorBody{Errors: problems})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
