package devserver

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	v1 "supportchat/shared/contracts/chat/v1"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// Routes mounts the websocket endpoint and the admin REST API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get(v1.WSPath, s.HandleWS)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(s.requireAdminToken)

		r.Get("/messages/customers", s.handleSummaries)
		r.Get("/messages/{customerID}", s.handleHistory)
		r.Post("/messages/{customerID}/read", s.handleMarkRead)
		r.Get("/orders", s.handleOrders)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ops, custs := s.hub.counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"operators": ops,
		"customers": custs,
	})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.Summaries(r.Context())
	if err != nil {
		s.log.Error("api.summaries.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "summaries unavailable")
		return
	}
	if out == nil {
		out = []v1.Summary{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := customerIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.store.MessagesByCustomer(r.Context(), id)
	if err != nil {
		s.log.Error("api.history.fail", "customer_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "history unavailable")
		return
	}
	if out == nil {
		out = []v1.Message{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := customerIDParam(w, r)
	if !ok {
		return
	}
	if err := s.store.MarkAsRead(r.Context(), id); err != nil {
		s.log.Error("api.mark_read.fail", "customer_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "mark read failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	resp := v1.PendingOrdersResponse{Data: []v1.PendingOrder{}}
	if s.orders != nil {
		out, err := s.orders.OrdersByStatus(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
		if err != nil {
			s.log.Error("api.orders.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "orders unavailable")
			return
		}
		if out != nil {
			resp.Data = out
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func customerIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid customer id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// originPatterns turns allowed origins into host patterns for websocket.Accept,
// which matches the origin's host[:port].
func originPatterns(allowed []string) []string {
	var out []string
	for _, a := range allowed {
		h := originHost(a)
		if h == "" {
			continue
		}
		for _, p := range []string{h, h + ":*"} {
			if h == "*" && p != h {
				continue
			}
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	slices.Sort(out)
	return out
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if s == "*" {
		return s
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}
