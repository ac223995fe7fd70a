package handler

import (
	"net/http"
	"time"

	"github.com/tallyhq/survey-server-go/internal/httputil"
	"github.com/tallyhq/survey-server-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func formatOptIn(optin *model.PortfolioDoubleOptIn) map[string]any {
	out := map[string]any{
		"id":        optin.ID,
		"kind":      optin.Kind,
		"state":     optin.State,
		"pending":   optin.IsPending(),
		"endsAt":    formatTime(optin.EndsAt),
		"createdAt": optin.CreatedAt.Format(time.RFC3339),
	}
	if optin.Message != nil {
		out["message"] = *optin.Message
	}
	if optin.VerificationKey != nil {
		out["verificationKey"] = *optin.VerificationKey
	}
	return out
}

func formatPortfolio(p model.Portfolio) map[string]any {
	return map[string]any{
		"id":     p.ID,
		"endsAt": formatTime(p.EndsAt),
	}
}
