package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	dErrors "granta/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies; payloads here are small JSON documents.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError translates coded domain errors into the JSON error envelope.
// Unknown errors map to a generic 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	var dErr *dErrors.Error
	if errors.As(err, &dErr) && dErr.Code != dErrors.CodeInternal {
		body["message"] = dErr.Message
	}
	writeJSON(w, dErrors.ToHTTPStatus(code), body)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	v, err := queryInt64(r, name, int64(fallback))
	return int(v), err
}

func queryInt64(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, dErrors.Newf(dErrors.CodeInvalidInput, "query parameter %s must be a non-negative integer", name)
	}
	return v, nil
}

func decode(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeInvalidInput, "request body is required")
		}
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "malformed request body")
	}
	return nil
}
