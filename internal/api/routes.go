package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recruitment-sync-service/internal/applicants"
	"recruitment-sync-service/internal/cache"
	"recruitment-sync-service/internal/sync"
)

const (
	ResourceUsers        = "users"
	ResourceApplications = "applications"
)

type Handler struct {
	syncManager *sync.Manager
	applicants  *applicants.Service
	cache       *cache.Layer
	corsOrigins []string
}

func NewHandler(manager *sync.Manager, svc *applicants.Service, layer *cache.Layer, corsOrigins []string) *Handler {
	return &Handler{
		syncManager: manager,
		applicants:  svc,
		cache:       layer,
		corsOrigins: corsOrigins,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware(h.corsOrigins))

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.RegisterUser)
		r.Post("/application", h.SubmitApplication)
		r.Post("/send-thankyou-mail", h.SendThankYouMail)

		r.Route("/v1/sync", func(r chi.Router) {
			r.Post("/trigger", h.TriggerSync)
			r.Get("/status", h.GetSyncStatus)
			r.Get("/history", h.GetSyncHistory)
			r.Get("/conflicts", h.GetConflicts)
		})
	})

	r.Route("/applicants", func(r chi.Router) {
		r.Get("/users", h.serveCached(ResourceUsers))
		r.Get("/applications", h.serveCached(ResourceApplications))
		r.Post("/send-unfilled-emails", h.SendUnfilledEmails)
	})
	r.Post("/add-users-to-sheet", h.AddUsersToSheet)

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.syncManager.Trigger(sync.TriggerManual); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.syncManager.GetStatus())
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	history, err := h.syncManager.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	conflicts, err := h.syncManager.Conflicts(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}

// pagination reads limit (default 50, at most 500) and offset.
func pagination(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// CorsMiddleware allows the configured origins. An empty list or "*" allows any.
func CorsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

			if r.Method == http.MethodOptions {
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
