package api

import (
	"net/http"
	"strconv"

	"focusguard/services/tracker"
)

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	stats, err := a.reports.UserStats(ctx, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) handleDaily(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	daily, err := a.reports.Daily(ctx, userFrom(r), days)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, daily)
}

func (a *API) handleDailyApps(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	apps, err := a.reports.DailyApps(ctx, userFrom(r), days)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if apps == nil {
		apps = []tracker.AppTotal{}
	}
	respondJSON(w, http.StatusOK, apps)
}

func daysParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return tracker.DefaultReportDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("days must be an integer")
	}
	return days, nil
}
