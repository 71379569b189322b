package api

import (
	"io"
	"net/http"
	"strings"

	"focusguard/services/tracker"
	"focusguard/services/tracker/vision"
)

const maxFrameBytes = 8 << 20

type focusRequest struct {
	IsFocused *bool   `json:"isFocused" validate:"required"`
	Reason    string  `json:"reason" validate:"max=128"`
	Duration  float64 `json:"duration" validate:"gte=0"`
}

type analysisRequest struct {
	Image string `json:"image" validate:"required"`
}

func (a *API) handleFocus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req focusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	err := a.ingest.FocusPush(ctx, id, userFrom(r), tracker.FocusReport{
		Focused:  *req.IsFocused,
		Reason:   req.Reason,
		Duration: req.Duration,
	})
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message": "Focus status updated"})
}

func (a *API) handleLatestActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	act, err := a.ingest.LatestActivity(ctx, id, userFrom(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, act)
}

// handleAnalysis accepts either a JSON body carrying a data URL or a raw image body.
// The vision timeout is applied by the ingest gateway, so the request context is used as is.
func (a *API) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(r)
	if !ok {
		respondMessage(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if !a.ingest.VisionEnabled() {
		a.respondError(w, r, tracker.ErrVisionDisabled)
		return
	}

	frame, err := readFrame(w, r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	res, err := a.ingest.AnalyzeFrame(r.Context(), id, userFrom(r), frame)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func readFrame(w http.ResponseWriter, r *http.Request) (tracker.Frame, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFrameBytes*4/3+1024)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "image/") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return tracker.Frame{}, badRequest("read image: %v", err)
		}
		if len(data) == 0 {
			return tracker.Frame{}, badRequest("image is required")
		}
		return tracker.Frame{Data: data, MIMEType: ct}, nil
	}

	var req analysisRequest
	if err := decodeJSON(r, &req); err != nil {
		return tracker.Frame{}, badRequest("%v", err)
	}
	frame, err := vision.DecodeDataURL(req.Image)
	if err != nil {
		return tracker.Frame{}, err
	}
	if len(frame.Data) > maxFrameBytes {
		return tracker.Frame{}, badRequest("image exceeds %d bytes", maxFrameBytes)
	}
	return frame, nil
}
