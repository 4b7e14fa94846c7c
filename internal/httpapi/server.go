package httpapi

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Models() types.ModelList
	Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	Activate(ctx context.Context, id string) error
	Status() types.StatusResponse
	Ready() bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", h.models)
		r.Post("/models/{id}/activate", h.activate)
		r.Post("/chat/completions", h.complete)
	})
	r.Get("/status", h.status)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no active model"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

type handlers struct {
	svc Service
}

// models godoc
// @Summary      List known models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelList
// @Router       /v1/models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Models())
}

// status godoc
// @Summary      Activation and queue status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// activate godoc
// @Summary      Activate a model in the background
// @Description  Returns immediately; poll /status or /readyz for the outcome.
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "Model id"
// @Success      202  {object}  types.ActivateResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      409  {object}  types.ErrorResponse
// @Router       /v1/models/{id}/activate [post]
func (h *handlers) activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lvl := requestLogLevel(r)
	if err := h.svc.Activate(r.Context(), id); err != nil {
		status := statusFor(err)
		requestLogger(r, lvl, LevelInfo).Str("model", id).Int("status", status).Err(err).Msg("activation refused")
		writeJSONError(w, status, err.Error())
		return
	}
	requestLogger(r, lvl, LevelInfo).Str("model", id).Msg("activation accepted")
	writeJSON(w, http.StatusAccepted, types.ActivateResponse{ID: id, Status: "loading"})
}

// complete godoc
// @Summary      Create a chat completion
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      types.ChatRequest  true  "Conversation"
// @Success      200      {object}  types.ChatResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	requestLogger(r, lvl, LevelInfo).Str("model", req.Model).Int("messages", len(req.Messages)).Msg("completion start")

	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if requestTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, requestTimeout)
		defer stop()
	}

	resp, err := h.svc.Complete(ctx, req)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody reads the answer.
			return
		}
		status := statusFor(err)
		switch {
		case serverBaseCtx.Err() != nil:
			status = http.StatusServiceUnavailable
			err = errors.New("server shutting down")
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("queue_full")
		}
		ev := LevelInfo
		if status >= http.StatusInternalServerError {
			ev = LevelError
		}
		requestLogger(r, lvl, ev).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("completion end")
		writeJSONError(w, status, err.Error())
		return
	}
	requestLogger(r, lvl, LevelInfo).
		Int("status", http.StatusOK).
		Dur("dur", time.Since(start)).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("completion end")
	if len(resp.Choices) > 0 {
		requestLogger(r, lvl, LevelDebug).Str("content", resp.Choices[0].Message.Content).Msg("completion text")
	}
	writeJSON(w, http.StatusOK, resp)
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	msg := "invalid field " + fe.Namespace() + ": failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return msg
}
