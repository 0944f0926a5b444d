package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/emitter"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
	"github.com/VedanshGovind/FinGuard-AI/internal/middleware"
)

type liveMedia struct {
	Recording string `json:"recording"`
	Video     string `json:"video"`
	Audio     string `json:"audio"`
	Code      string `json:"code"`
}

type liveRequest struct {
	SessionID    string    `json:"session_id"`
	ExpectedCode string    `json:"expected_code"`
	Media        liveMedia `json:"media"`
}

type analyzeRequest struct {
	SessionID string `json:"session_id"`
	MediaURI  string `json:"media_uri"`
}

type challengeRequest struct {
	SessionID string `json:"session_id"`
}

// POST /api/v1/verify/live
func (s *Server) handleVerifyLive(w http.ResponseWriter, r *http.Request) {
	var body liveRequest
	if !decodeBody(w, r, &body, false) {
		return
	}
	body.SessionID = strings.TrimSpace(body.SessionID)
	if body.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}
	m := body.Media
	if m.Recording == "" && m.Video == "" && m.Audio == "" && m.Code == "" {
		writeError(w, r, http.StatusBadRequest, "at least one media handle is required")
		return
	}

	ctx := r.Context()
	reqID := middleware.RequestIDFrom(ctx)

	expected, issued := body.ExpectedCode, false
	if expected == "" && s.deps.Challenges != nil {
		code, err := s.deps.Challenges.Resolve(ctx, body.SessionID)
		switch {
		case err == nil:
			expected, issued = code, true
		case errors.Is(err, core.ErrChallengeNotFound):
			slog.Info("[API] No active challenge for session", "session_id", body.SessionID, "request_id", reqID)
		default:
			slog.Warn("[API] Challenge lookup failed", "session_id", body.SessionID, "request_id", reqID, "error", err)
		}
	}

	ref := func(uri string) core.MediaRef { return core.MediaRef{SessionID: body.SessionID, URI: uri} }
	sv := s.deps.Verifier.Verify(ctx, fusion.Request{
		RequestID:    reqID,
		SessionID:    body.SessionID,
		ExpectedCode: expected,
		Recording:    m.Recording,
		Video:        ref(m.Video),
		Audio:        ref(m.Audio),
		Code:         ref(m.Code),
	})

	// A decided session burns its challenge; INCONCLUSIVE lets the caller retry.
	if issued && sv.Outcome != fusion.OutcomeInconclusive {
		if err := s.deps.Challenges.Revoke(ctx, body.SessionID); err != nil {
			slog.Warn("[API] Failed to revoke challenge", "session_id", body.SessionID, "error", err)
		}
	}

	resp := emitter.BuildLiveResponse(sv)
	ev := emitter.NewSessionEvent(sv)
	// The template render is cheap, so the response carries the text and
	// the event reuses it; sinks still run off the request path.
	if s.deps.Explainer != nil {
		if text, err := s.deps.Explainer.Session(sv); err == nil {
			resp.Explanation = text
			ev.WithExplanation(text)
		}
	}
	s.publish(ev)

	writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/analyze/{modality}
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	m, err := core.ParseModality(mux.Vars(r)["modality"])
	if err != nil || !m.Scored() {
		writeError(w, r, http.StatusNotFound, "modality must be video or audio")
		return
	}

	var body analyzeRequest
	if !decodeBody(w, r, &body, false) {
		return
	}
	if strings.TrimSpace(body.MediaURI) == "" {
		writeError(w, r, http.StatusBadRequest, "media_uri is required")
		return
	}

	reqID := middleware.RequestIDFrom(r.Context())
	sig, v, err := s.deps.Verifier.Analyze(r.Context(), reqID, m, core.MediaRef{SessionID: body.SessionID, URI: body.MediaURI})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp := emitter.BuildModalityResponse(sig, v)
	resp.RequestID = reqID
	resp.SessionID = body.SessionID
	ev := emitter.NewModalityEvent(reqID, body.SessionID, sig, v)
	if s.deps.Explainer != nil {
		if text, err := s.deps.Explainer.Verdict(v); err == nil {
			resp.Explanation = text
			ev.WithExplanation(text)
		}
	}
	s.publish(ev)

	writeJSON(w, http.StatusOK, resp)
}

// POST /api/v1/challenges
func (s *Server) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Challenges == nil {
		writeError(w, r, http.StatusServiceUnavailable, "challenge issuance is not configured")
		return
	}

	var body challengeRequest
	if !decodeBody(w, r, &body, true) {
		return
	}

	c, err := s.deps.Challenges.Issue(r.Context(), strings.TrimSpace(body.SessionID))
	if err != nil {
		slog.Error("[API] Challenge issue failed", "session_id", body.SessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to issue challenge")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) publish(ev *emitter.Event) {
	if s.deps.Publisher == nil {
		return
	}
	s.deps.Publisher.Emit(ev)
}
