package api

import (
	"net/http"

	"focusguard/services/tracker"
)

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res, err := a.manager.Start(ctx, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.manager.Stop(ctx, id, userFrom(r))
	if err != nil {
		if tracker.IsNotFound(err) {
			respondMessage(w, http.StatusNotFound, "Active session not found")
			return
		}
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Session ended",
		"session": s,
	})
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.manager.Resume(ctx, id, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (a *API) handleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.manager.Active(ctx, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	sessions, err := a.manager.History(ctx, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []tracker.Session{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	s, err := a.manager.Get(ctx, id, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}
