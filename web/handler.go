package web

import (
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"authd/auth"
)

// Handler hosts the sign-in UI and adapts HTTP requests onto the flow core.
// It implements the core's Notifier and Navigator sinks: notices surface on
// the next rendered page, navigation requests become page redirects.
type Handler struct {
	cfg      auth.Config
	sessions *auth.SessionManager
	provider *auth.ProviderClient
	store    *auth.CredentialStore
	attempts auth.Storage
	logger   *slog.Logger

	mu         sync.Mutex
	controller *auth.CallbackController
	notice     *notice
	nav        *navigation
}

type notice struct {
	Kind    auth.NoticeKind
	Title   string
	Message string
}

type navigation struct {
	Path  string
	After time.Duration
}

// NewHandler wires the hosting layer.
func NewHandler(cfg auth.Config, sessions *auth.SessionManager, provider *auth.ProviderClient, store *auth.CredentialStore, attempts auth.Storage, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		provider: provider,
		store:    store,
		attempts: attempts,
		logger:   logger,
	}
}

// Notify records feedback from the flow for display on the next page.
func (h *Handler) Notify(kind auth.NoticeKind, title, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notice = &notice{Kind: kind, Title: title, Message: message}
}

// GoTo records a navigation request scheduled by the flow.
func (h *Handler) GoTo(path string, opts auth.NavOptions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nav = &navigation{Path: path, After: opts.After}
}

// Routes constructs the HTTP router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleHome)
	r.Get("/login", h.handleLogin)
	r.Post("/login/local", h.handleLocalLogin)
	r.Get("/login/provider", h.handleProviderLogin)
	r.Get("/auth/callback", h.handleCallback)
	r.Post("/auth/callback/finish", h.handleCallbackFinish)
	r.Get("/logout", h.handleLogout)

	return r
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	n := h.notice
	h.notice = nil
	h.mu.Unlock()

	h.render(w, homeTmpl, map[string]any{
		"Identity": h.sessions.Current(),
		"Notice":   n,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	h.render(w, loginTmpl, map[string]any{})
}

func (h *Handler) handleLocalLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	if _, err := h.sessions.LoginLocal(r.FormValue("email"), r.FormValue("name")); err != nil {
		h.render(w, loginTmpl, map[string]any{"Error": "A valid email address is required."})
		return
	}

	http.Redirect(w, r, h.cfg.Flow.LandingPath, http.StatusSeeOther)
}

func (h *Handler) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	redirect, _, err := h.provider.BuildAuthorizationRequest()
	if err != nil {
		h.logger.Error("build authorization request", "error", err)
		message := "Sign-in is unavailable."
		if fe, ok := auth.AsFlowError(err); ok {
			message = fe.Message
		}
		h.render(w, loginTmpl, map[string]any{"Error": message})
		return
	}

	// A fresh controller per sign-in attempt; the previous landing's latch
	// must not swallow the new callback.
	h.mu.Lock()
	h.controller = auth.NewCallbackController(h.provider, h.sessions, h.store, h.attempts, h, h, h.cfg, h.logger)
	h.nav = nil
	h.mu.Unlock()

	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleCallback is the registered redirect URI. Implicit-flow tokens live
// in the URL fragment, which the browser never sends to a server, so the
// normal path serves a relay page that forwards the fragment to the finish
// route. Degraded query-parameter responses are processed directly.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("error") != "" || q.Get("code") != "" || q.Get("state") != "" {
		h.finishCallback(w, r, "", q)
		return
	}
	h.render(w, relayTmpl, nil)
}

// handleCallbackFinish receives the fragment parameters relayed in the POST
// body. Tokens never travel in the URL, so request logs and browser history
// only ever see the bare path.
func (h *Handler) handleCallbackFinish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	h.finishCallback(w, r, r.PostFormValue("response"), url.Values{})
}

func (h *Handler) finishCallback(w http.ResponseWriter, r *http.Request, fragment string, query url.Values) {
	ctrl := h.currentController()
	res := ctrl.Process(r.Context(), fragment, query)

	h.mu.Lock()
	nav := h.nav
	h.mu.Unlock()

	data := map[string]any{}
	switch res.State {
	case auth.StateSucceeded:
		data["Title"] = "Welcome!"
		data["Class"] = "ok"
		data["Message"] = "You have been successfully signed in. Redirecting..."
	case auth.StateProcessing:
		data["Title"] = "Signing you in..."
		data["Class"] = "warn"
		data["Message"] = "Please wait while we complete your sign-in."
	default:
		data["Title"] = "Sign-in Failed"
		data["Class"] = "err"
		data["Message"] = "There was a problem signing you in."
		if res.Err != nil {
			data["Message"] = res.Err.Message
			if res.Err.Kind == auth.KindSessionExpired {
				data["Title"] = "Session Expired"
			} else {
				data["ShowRetry"] = true
			}
		}
	}

	if nav != nil && res.State != auth.StateProcessing {
		data["RedirectPath"] = nav.Path
		data["RedirectMillis"] = redirectMillis(nav.After)
	}

	h.render(w, callbackTmpl, data)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	http.Redirect(w, r, h.cfg.Flow.LandingPath, http.StatusSeeOther)
}

// currentController returns the controller for the in-flight attempt,
// creating one lazily for callbacks that land without a matching login in
// this process.
func (h *Handler) currentController() *auth.CallbackController {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.controller == nil {
		h.controller = auth.NewCallbackController(h.provider, h.sessions, h.store, h.attempts, h, h, h.cfg, h.logger)
	}
	return h.controller
}

func (h *Handler) render(w http.ResponseWriter, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		h.logger.Warn("render page", "error", err)
	}
}

func redirectMillis(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Millisecond)
}
