package handlers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"support-widget-server/internal/auth"
	"support-widget-server/internal/logger"
	"support-widget-server/internal/metrics"
	"support-widget-server/internal/realtime"
	"support-widget-server/internal/service"
	"support-widget-server/internal/widget"
)

// Options carries the HTTP-facing settings.
type Options struct {
	AllowedOrigins []string
	SigningKeys    []string
	RateRPS        float64
	RateBurst      int
	TrustedProxies []string
	StateCookieKey []byte
	StateCookieTTL time.Duration
	SecureCookies  bool
}

type Handler struct {
	Users           *service.Users
	ContactSessions *service.ContactSessions
	Conversations   *service.Conversations
	Messages        *service.Messages
	Hub             *realtime.Hub
	Metrics         *metrics.Metrics
	View            *widget.View
	Cookies         *widget.CookieCodec
	Options         Options
}

func New(users *service.Users, sessions *service.ContactSessions, conversations *service.Conversations,
	messages *service.Messages, hub *realtime.Hub, m *metrics.Metrics, opts Options) *Handler {
	if opts.StateCookieTTL <= 0 {
		opts.StateCookieTTL = 30 * 24 * time.Hour
	}
	if len(opts.StateCookieKey) == 0 {
		logger.Warn("no_state_cookie_key", "effect", "widget state resets on restart")
	}
	return &Handler{
		Users:           users,
		ContactSessions: sessions,
		Conversations:   conversations,
		Messages:        messages,
		Hub:             hub,
		Metrics:         m,
		View:            widget.NewView(),
		Cookies:         widget.NewCookieCodec(opts.StateCookieKey, opts.StateCookieTTL, opts.SecureCookies),
		Options:         opts,
	}
}

// Router builds the full HTTP surface.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(h.observe)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/widget", h.widgetPage).Methods(http.MethodGet)
	r.HandleFunc("/widget/auth", h.widgetAuth).Methods(http.MethodPost)
	r.HandleFunc("/widget/back", h.widgetBack).Methods(http.MethodPost)
	r.HandleFunc("/widget/screen", h.widgetScreen).Methods(http.MethodPost)

	users := r.PathPrefix("/api/users").Subrouter()
	users.Use(auth.ResolveIdentity(h.Options.SigningKeys))
	users.HandleFunc("", h.listUsers).Methods(http.MethodGet)
	users.HandleFunc("", h.createUser).Methods(http.MethodPost)

	public := r.PathPrefix("/api/public").Subrouter()
	proxies, err := auth.ParseProxies(h.Options.TrustedProxies)
	if err != nil {
		logger.Warn("trusted_proxies_ignored", "error", err)
	}
	public.Use(auth.RateLimit(h.Options.RateRPS, h.Options.RateBurst, proxies, h.Metrics.RateLimited.Inc))
	public.HandleFunc("/contact-sessions", h.createContactSession).Methods(http.MethodPost)
	public.HandleFunc("/contact-sessions/{id}/validate", h.validateContactSession).Methods(http.MethodPost)
	public.HandleFunc("/conversations", h.createConversation).Methods(http.MethodPost)
	public.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	public.HandleFunc("/conversations/{id}", h.getConversation).Methods(http.MethodGet)
	public.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	public.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)

	r.HandleFunc("/realtime/v1/websocket", h.Hub.ServeWs)

	return h.cors(r)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := h.allowOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", auth.HeaderUserID, auth.HeaderOrgID, auth.HeaderSignature,
		}, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowOrigin(origin string) string {
	for _, o := range h.Options.AllowedOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.LogRequest(r)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		h.Metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		logger.Info("http_request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
