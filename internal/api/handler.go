package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"link-cloaker/internal/detect"
	"link-cloaker/internal/engine"
	"link-cloaker/internal/resolver"
)

// Dispatcher resolves and decides one inbound redirect request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req engine.Request) (resolver.Result, error)
}

// Reports is the read side of the access log used by the admin endpoints.
type Reports interface {
	AccessLogs(ctx context.Context, campaignID string, limit int) ([]engine.AccessLogEntry, error)
	CampaignStats(ctx context.Context, campaignID string) (engine.CampaignStats, error)
	UserStats(ctx context.Context, userID string) (engine.UserStats, error)
}

type Options struct {
	EdgeCountryHeader string
	CDNCountryHeader  string
	AdminToken        string
}

type Handler struct {
	dispatch Dispatcher
	reports  Reports
	opts     Options
}

func NewHandler(d Dispatcher, reports Reports, opts Options) *Handler {
	return &Handler{dispatch: d, reports: reports, opts: opts}
}

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// BuildRequest copies the facts the detection layers need out of r.
func (h *Handler) BuildRequest(r *http.Request, slug string) engine.Request {
	return engine.Request{
		Host:         r.Host,
		Slug:         slug,
		UserAgent:    r.Header.Get("User-Agent"),
		Referer:      r.Header.Get("Referer"),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
		URL:          fullURL(r),
		EdgeCountry:  header(r, h.opts.EdgeCountryHeader),
		CDNCountry:   header(r, h.opts.CDNCountryHeader),
	}
}

func header(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	return r.Header.Get(name)
}

func fullURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme, _, _ = strings.Cut(p, ",")
		scheme = strings.TrimSpace(scheme)
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// Redirect answers GET /r/{slug} and /go/{slug} with a 302 to the campaign's
// destination or safe page.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	res, err := h.dispatch.Dispatch(r.Context(), h.BuildRequest(r, slug))
	switch {
	case err == nil:
	case errors.Is(err, resolver.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	case errors.Is(err, resolver.ErrInvalidTarget):
		log.Error().Err(err).Str("slug", slug).Msg("refusing redirect")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	default:
		log.Error().Err(err).Str("slug", slug).Msg("process redirect")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.Target, http.StatusFound)
}

func (h *Handler) Countries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, detect.AvailableCountries())
}

// RequireAdmin guards the reporting endpoints with a static bearer token.
// With no token configured they are disabled.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AdminToken == "" {
			writeError(w, http.StatusNotFound, "admin API disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) CampaignStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.reports.CampaignStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		log.Error().Err(err).Msg("fetch campaign stats")
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) CampaignLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLogLimit)
	}

	logs, err := h.reports.AccessLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		log.Error().Err(err).Msg("fetch access logs")
		writeError(w, http.StatusInternalServerError, "Failed to fetch logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.reports.UserStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		log.Error().Err(err).Msg("fetch user stats")
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
