package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Handler serves the identity provider API.
type Handler struct {
	signer   *Signer
	appIDs   []string
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates an identity provider handler. Requests for app ids not
// in appIDs are rejected; an empty list accepts any app.
func NewHandler(signer *Signer, appIDs []string, log zerolog.Logger) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		signer:   signer,
		appIDs:   appIDs,
		validate: validate,
		log:      log,
	}
}

// Routes returns the handler's HTTP routes.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+TokenPath, h.issueToken)
	return withLogging(h.log, mux)
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResponseSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusUnprocessableEntity, verrs[0].Field()+" is required")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if len(h.appIDs) > 0 && !slices.Contains(h.appIDs, req.AppID) {
		h.log.Warn().Str("app_id", req.AppID).Msg("rejected token request for unknown app")
		writeError(w, http.StatusForbidden, "unknown app_id")
		return
	}

	token, err := h.signer.Sign(req.AppID, req.UserID, req.Nonce)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to sign identity token")
		writeError(w, http.StatusInternalServerError, "unable to issue token")
		return
	}

	h.log.Debug().Str("user_id", req.UserID).Msg("issued identity token")
	writeJSON(w, http.StatusCreated, tokenResponse{IdentityToken: token})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, tokenResponse{Error: msg, Status: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
