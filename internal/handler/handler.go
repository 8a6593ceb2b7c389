package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"shortlink/internal/metrics"
	"shortlink/internal/model"
	"shortlink/internal/service"
)

// URLService is what the HTTP layer needs from *service.Service.
type URLService interface {
	CreateShortURL(ctx context.Context, rawURL string) (*model.CreateResult, error)
	Redirect(ctx context.Context, code string, meta model.ClickMetadata) (*model.Resolution, error)
	Stats(ctx context.Context, code string) (*model.Stats, error)
	DeleteURL(ctx context.Context, code string) (bool, error)
	Health(ctx context.Context) service.Health
}

type Handler struct {
	Service  URLService
	BaseURL  string
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	validate *validator.Validate
}

type shortenRequest struct {
	URL string `json:"url" validate:"required"`
}

type shortenResponse struct {
	ShortCode   string    `json:"shortCode"`
	ShortURL    string    `json:"shortUrl"`
	OriginalURL string    `json:"originalUrl"`
	IsNew       bool      `json:"isNew"`
	CreatedAt   time.Time `json:"createdAt"`
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
	Cache     string    `json:"cache"`
}

func NewHandler(s URLService, baseURL string, logger *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		Service:  s,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Logger:   logger.Named("http"),
		Metrics:  m,
		validate: validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/shorten", h.CreateShort).Methods(http.MethodPost)
	r.HandleFunc("/api/stats/{shortCode}", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/url/{shortCode}", h.DeleteURL).Methods(http.MethodDelete)
	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/{shortCode:[^./]+}", h.Redirect).Methods(http.MethodGet)

	r.Use(h.requestID, h.instrument)
	r.NotFoundHandler = h.requestID(h.instrument(http.HandlerFunc(h.notFound)))
	r.MethodNotAllowedHandler = h.requestID(h.instrument(http.HandlerFunc(h.methodNotAllowed)))

	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(h.Logger)),
		handlers.PrintRecoveryStack(true),
	)
	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.ExposedHeaders([]string{"X-Request-ID"}),
	)
	return cors(recovery(r))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.Service.Health(r.Context())

	resp := healthResponse{
		Success:   true,
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Store:     health.Store,
		Cache:     health.Cache,
	}
	status := http.StatusOK
	if !health.Healthy() {
		resp.Success = false
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) CreateShort(w http.ResponseWriter, r *http.Request) {
	var req shortenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	res, err := h.Service.CreateShortURL(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, model.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, "invalid url: must be an absolute http or https URL")
			return
		}
		h.serverError(w, r, "failed to shorten url", err)
		return
	}

	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, envelope{
		Success: true,
		Data: shortenResponse{
			ShortCode:   res.ShortCode,
			ShortURL:    h.BaseURL + "/" + res.ShortCode,
			OriginalURL: res.OriginalURL,
			IsNew:       res.IsNew,
			CreatedAt:   res.CreatedAt,
		},
	})
}

func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["shortCode"]

	res, err := h.Service.Redirect(r.Context(), code, clickMetadata(r))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "short url not found")
			return
		}
		h.serverError(w, r, "failed to resolve short url", err)
		return
	}
	http.Redirect(w, r, res.OriginalURL, http.StatusMovedPermanently)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["shortCode"]

	stats, err := h.Service.Stats(r.Context(), code)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, "short url not found")
			return
		}
		h.serverError(w, r, "failed to load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

func (h *Handler) DeleteURL(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["shortCode"]

	deleted, err := h.Service.DeleteURL(r.Context(), code)
	if err != nil {
		h.serverError(w, r, "failed to delete short url", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "short url not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "short url deleted"})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.Logger.Error(msg,
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

// clickMetadata captures what the redirect knows about the visitor. The first
// X-Forwarded-For hop wins over the socket address when it parses as an IP.
func clickMetadata(r *http.Request) model.ClickMetadata {
	return model.ClickMetadata{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}
