package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"researchbuddy/internal/credentials"
	"researchbuddy/internal/db"
	"researchbuddy/internal/export"
	"researchbuddy/internal/models"
)

const AdminHeader = "X-Admin-Password"

var (
	errAdminDisabled = errors.New("admin access is not configured")
	errAdminDenied   = errors.New("invalid admin password")
	errRateLimited   = errors.New("too many admin requests")
)

// adminOnly charges the rate limiter for every attempt, including ones with a
// wrong password.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.metrics.adminDenied.Inc()
			respondError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		if s.db == nil || s.admin == nil {
			respondError(w, http.StatusServiceUnavailable, errAdminDisabled)
			return
		}
		expected, _ := s.admin.AdminPassword()
		if !credentials.CheckPassword(expected, r.Header.Get(AdminHeader)) {
			s.metrics.adminDenied.Inc()
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("admin password rejected")
			respondError(w, http.StatusUnauthorized, errAdminDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statsReport struct {
	Stats         models.Stats          `json:"stats"`
	ModelUsage    []models.ModelUsage   `json:"model_usage"`
	DailyUsage    []models.DailyUsage   `json:"daily_usage"`
	ResponseTimes []models.ResponseTime `json:"response_times"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var rep statsReport
	var err error
	if rep.Stats, err = db.Stats(ctx, s.db); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if rep.ModelUsage, err = db.ModelUsage(ctx, s.db); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if rep.DailyUsage, err = db.DailyUsage(ctx, s.db); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if rep.ResponseTimes, err = db.ResponseTimes(ctx, s.db); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	format := export.JSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		if format, err = export.ParseFormat(raw); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	sheets := export.StatsSheets(rep.Stats, rep.ModelUsage, rep.DailyUsage, rep.ResponseTimes)
	name := "researchbuddy_stats_" + time.Now().Format("20060102") + format.Ext()
	switch format {
	case export.JSON:
		respondJSON(w, http.StatusOK, rep)
	case export.CSV:
		body, err := export.StatsCSV(sheets)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondFile(w, format.ContentType(), name, body)
	case export.XLSX:
		body, err := export.Workbook(sheets...)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		respondFile(w, format.ContentType(), name, body)
	default:
		respondError(w, http.StatusBadRequest, errors.New("stats are available as json, csv or xlsx"))
	}
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 10)
	if limit == 0 {
		limit = 10
	}
	total, items, err := db.RecentSessions(r.Context(), s.db,
		limit, intParam(r, "offset", 0), intParam(r, "min_messages", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"total": total, "sessions": items})
}

func (s *Server) adminSession(w http.ResponseWriter, r *http.Request) (models.SessionInfo, []models.Interaction, bool) {
	id := chi.URLParam(r, "sessionID")
	info, err := db.GetSession(r.Context(), s.db, id)
	if errors.Is(err, db.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, err)
		return info, nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return info, nil, false
	}
	items, err := db.SessionInteractions(r.Context(), s.db, id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return info, nil, false
	}
	return info, items, true
}

func (s *Server) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	info, items, ok := s.adminSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": info, "interactions": items})
}

func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	info, items, ok := s.adminSession(w, r)
	if !ok {
		return
	}
	body, err := export.Interactions(items, format)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	short := info.SessionID
	if len(short) > 8 {
		short = short[:8]
	}
	respondFile(w, format.ContentType(), "session_"+short+format.Ext(), body)
}
