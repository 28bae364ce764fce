package api

import (
	"net/http"
	"strings"

	"recruitment-sync-service/internal/applicants"
	"recruitment-sync-service/internal/store"
)

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var in applicants.RegisterInput
	if !decode(w, r, &in) {
		return
	}

	user, created, err := h.applicants.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	if created {
		writeJSON(w, http.StatusCreated, map[string]any{"message": "User registered successfully", "user": user})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "User already exists", "user": user})
}

func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var in applicants.ApplicationInput
	if !decode(w, r, &in) {
		return
	}

	app, outcome, err := h.applicants.SubmitApplication(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	switch outcome {
	case applicants.Created:
		writeJSON(w, http.StatusCreated, map[string]any{"message": "Application saved", "application": app})
	case applicants.Updated:
		writeJSON(w, http.StatusOK, map[string]any{"message": "Application updated", "application": app})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"message": "No changes detected", "application": app})
	}
}

func (h *Handler) SendThankYouMail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if !decode(w, r, &in) {
		return
	}

	if err := h.applicants.SendThankYou(r.Context(), in.Email, in.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Mail sent successfully"})
}

type usersRequest struct {
	Users []store.User `json:"users"`
}

func (h *Handler) SendUnfilledEmails(w http.ResponseWriter, r *http.Request) {
	var in usersRequest
	if !decode(w, r, &in) {
		return
	}

	results, err := h.applicants.SendUnfilledEmails(r.Context(), in.Users)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (h *Handler) AddUsersToSheet(w http.ResponseWriter, r *http.Request) {
	var in usersRequest
	if !decode(w, r, &in) {
		return
	}

	results, err := h.applicants.AddUsersToSheet(r.Context(), in.Users)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

// serveCached answers from the cache layer, gzip-encoded when the client accepts it.
func (h *Handler) serveCached(resource string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := h.cache.Get(r.Context(), resource, acceptsGzip(r.Header.Get("Accept-Encoding")))
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Vary", "Accept-Encoding")
		if payload.Hit {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		if payload.Gzip {
			w.Header().Set("Content-Encoding", "gzip")
		}
		w.WriteHeader(http.StatusOK)
		w.Write(payload.Body)
	}
}

// acceptsGzip reports whether an Accept-Encoding header allows gzip.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		if q == "q=0" || q == "q=0.0" || q == "q=0.00" || q == "q=0.000" {
			continue
		}
		return true
	}
	return false
}
