package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"kumascript/internal/common/errors"
	"kumascript/internal/render"
)

// RenderMacro renders the macro named in the path. Positional arguments
// come from repeated "arg" query values and the environment from
// X-Kumascript-Env-<Key> headers. The output is returned as text; recorded
// errors are listed in the X-Kumascript-Errors header.
func (h *Handlers) RenderMacro(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	args := make([]interface{}, 0, len(r.URL.Query()["arg"]))
	for _, arg := range r.URL.Query()["arg"] {
		args = append(args, arg)
	}

	result, err := h.renderer.Render(r.Context(), render.Request{
		Template: name,
		Args:     args,
		Env:      envFromHeaders(r.Header),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set(LineageHeader, result.LineageID)
	if len(result.Errors) > 0 {
		w.Header().Set(ErrorCountHeader, strconv.Itoa(len(result.Errors)))
		if encoded := errorsHeaderValue(result.ErrorInfos()); encoded != "" {
			w.Header().Set(ErrorsHeader, encoded)
		}
	}

	code := http.StatusOK
	if result.Failed(h.strict) {
		code = failureStatus(result.Err())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(result.Output))
}

// failureStatus is the status of a failed rendering. top is nil when the
// rendering failed only because strict mode saw nested errors.
func failureStatus(top error) int {
	switch {
	case errors.IsType(top, errors.ErrTypeNotFound):
		return http.StatusNotFound
	case errors.IsType(top, errors.ErrTypeTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RenderResponse is the JSON body of POST /render
type RenderResponse struct {
	Output     string             `json:"output"`
	Errors     []render.ErrorInfo `json:"errors"`
	LineageID  string             `json:"lineage_id"`
	Failed     bool               `json:"failed"`
	DurationMS int64              `json:"duration_ms"`
}

// Render renders the JSON request in the body
func (h *Handlers) Render(w http.ResponseWriter, r *http.Request) {
	var req render.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, errors.ValidationError("invalid JSON body: "+err.Error()))
		return
	}

	result, err := h.renderer.Render(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set(LineageHeader, result.LineageID)
	writeJSON(w, http.StatusOK, RenderResponse{
		Output:     result.Output,
		Errors:     result.ErrorInfos(),
		LineageID:  result.LineageID,
		Failed:     result.Failed(h.strict),
		DurationMS: result.Duration.Milliseconds(),
	})
}

// envFromHeaders collects X-Kumascript-Env-<Key> headers. A value that is
// base64 encoded JSON is decoded; anything else is kept as a string.
func envFromHeaders(header http.Header) map[string]interface{} {
	env := make(map[string]interface{})
	for key, values := range header {
		if len(values) == 0 || !strings.HasPrefix(key, EnvHeaderPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, EnvHeaderPrefix))
		if name == "" {
			continue
		}
		env[name] = decodeEnvValue(values[0])
	}
	return env
}

func decodeEnvValue(raw string) interface{} {
	if data, err := base64.StdEncoding.DecodeString(raw); err == nil {
		var v interface{}
		if json.Unmarshal(data, &v) == nil {
			return v
		}
	}
	return raw
}

// errorsHeaderValue encodes at most maxHeaderErrors entries with shortened
// messages, dropping trailing entries until the value fits
// maxErrorsHeaderSize. The full count goes in X-Kumascript-Error-Count.
func errorsHeaderValue(infos []render.ErrorInfo) string {
	if len(infos) > maxHeaderErrors {
		infos = infos[:maxHeaderErrors]
	}
	trimmed := make([]render.ErrorInfo, len(infos))
	for i, info := range infos {
		if len(info.Message) > maxHeaderMessageLen {
			info.Message = strings.ToValidUTF8(info.Message[:maxHeaderMessageLen], "") + "..."
		}
		trimmed[i] = info
	}
	for n := len(trimmed); n > 0; n-- {
		encoded, err := json.Marshal(trimmed[:n])
		if err != nil {
			return ""
		}
		if len(encoded) <= maxErrorsHeaderSize {
			return string(encoded)
		}
	}
	return ""
}
