package httpapi

import (
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

type errorBody struct {
	Error errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders err as a JSON envelope. Only the public message leaves
// the process.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := core.ErrorInternal
	message := core.PublicMessage(err)

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code >= 400 && rich.Code < 600 {
			status = rich.Code
		}
		if rich.TextCode != "" {
			code = rich.TextCode
		}
		if rich.TextCode == codeUnauthenticated {
			message = "Authentication required."
		}
	}
	writeJSON(w, status, errorBody{Error: errorEnvelope{Code: code, Message: message}})
}

func badRequest(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
