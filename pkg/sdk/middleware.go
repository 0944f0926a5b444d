package sdk

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Response headers set by the gate
const (
	HeaderVerdict   = "X-Verify-Verdict"
	HeaderRequestID = "X-Verify-Request-ID"
)

// Extractor pulls the verification request out of an inbound request.
// Returning ok=false rejects the call with 400.
type Extractor func(r *http.Request) (req LiveRequest, ok bool)

// HeaderExtractor reads the session and recording from request headers.
// This suits flows where the client captured the session before calling
// the protected endpoint.
func HeaderExtractor(sessionHeader, recordingHeader string) Extractor {
	return func(r *http.Request) (LiveRequest, bool) {
		session := r.Header.Get(sessionHeader)
		recording := r.Header.Get(recordingHeader)
		if session == "" || recording == "" {
			return LiveRequest{}, false
		}
		return LiveRequest{SessionID: session, Media: Media{Recording: recording}}, true
	}
}

// RequireVerified gates next on a PASS verdict for the caller's live
// session. FAIL answers 403 and INCONCLUSIVE answers 409 so the caller can
// recapture. A service error fails closed with 503.
//
// Usage with Gorilla Mux:
//
//	router.Handle("/transfers", sdk.RequireVerified(client, extract, transferHandler))
func RequireVerified(client *Client, extract Extractor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := extract(r)
		if !ok {
			writeGate(w, http.StatusBadRequest, map[string]any{
				"error": "live verification session is required",
			})
			return
		}

		result, err := client.VerifyLive(r.Context(), req)
		if err != nil {
			slog.Warn("[Verify] Verification unavailable, rejecting", "session_id", req.SessionID, "error", err)
			writeGate(w, http.StatusServiceUnavailable, map[string]any{
				"error": "live verification unavailable",
			})
			return
		}

		w.Header().Set(HeaderVerdict, result.FinalVerdict)
		w.Header().Set(HeaderRequestID, result.RequestID)

		switch result.FinalVerdict {
		case VerdictPass:
			next.ServeHTTP(w, r)
		case VerdictFail:
			writeGate(w, http.StatusForbidden, map[string]any{
				"error":      "live verification failed",
				"verdict":    result.FinalVerdict,
				"reason":     result.FailureReason,
				"request_id": result.RequestID,
			})
		default:
			writeGate(w, http.StatusConflict, map[string]any{
				"error":      "live verification inconclusive, recapture and retry",
				"verdict":    result.FinalVerdict,
				"reason":     result.FailureReason,
				"request_id": result.RequestID,
			})
		}
	})
}

// RequireVerifiedFunc returns Gorilla Mux compatible middleware
func RequireVerifiedFunc(client *Client, extract Extractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireVerified(client, extract, next)
	}
}

func writeGate(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
