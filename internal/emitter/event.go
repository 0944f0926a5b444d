package emitter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

// EventType names what was decided.
type EventType string

const (
	EventSessionDecided  EventType = "verification.session.decided"
	EventModalityDecided EventType = "verification.modality.decided"
)

// Event is a CloudEvents 1.0 envelope around a decided verdict. Events are
// built from deep copies, so sinks may read them freely.
type Event struct {
	SpecVersion string    `json:"specversion"`
	Type        EventType `json:"type"`
	Source      string    `json:"source"`
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Subject     string    `json:"subject,omitempty"`
	Data        any       `json:"data"`

	session   *fusion.SessionVerdict
	verdict   decision.Verdict
	reqID     string
	explained bool
}

// NewSessionEvent snapshots sv.
func NewSessionEvent(sv *fusion.SessionVerdict) *Event {
	c := sv.Clone()
	return &Event{
		SpecVersion: "1.0",
		Type:        EventSessionDecided,
		Source:      "/api/v1/verify/live",
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     c.SessionID,
		Data:        BuildLiveResponse(c),
		session:     c,
		reqID:       c.RequestID,
	}
}

// NewModalityEvent snapshots a single-modality decision.
func NewModalityEvent(requestID, sessionID string, sig core.ModalitySignal, v decision.Verdict) *Event {
	sig, v = sig.Clone(), v.Clone()
	data := BuildModalityResponse(sig, v)
	data.RequestID = requestID
	data.SessionID = sessionID
	return &Event{
		SpecVersion: "1.0",
		Type:        EventModalityDecided,
		Source:      "/api/v1/analyze/" + strings.ToLower(string(v.Modality)),
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Subject:     sessionID,
		Data:        data,
		verdict:     v,
		reqID:       requestID,
	}
}

// RequestID returns the originating request ID.
func (e *Event) RequestID() string { return e.reqID }

// Outcome is the session outcome, or the classification for a
// single-modality event.
func (e *Event) Outcome() string {
	if e.session != nil {
		return string(e.session.Outcome)
	}
	return string(e.verdict.Classification)
}

// FailureReason is empty for single-modality events and passing sessions.
func (e *Event) FailureReason() string {
	if e.session != nil {
		return string(e.session.FailureReason)
	}
	return ""
}

// PolicyFlags collects the distinct flags raised by the decision.
func (e *Event) PolicyFlags() []string {
	var src []decision.PolicyFlag
	if e.session != nil {
		src = append(append(src, e.session.VideoVerdict.PolicyFlags...), e.session.AudioVerdict.PolicyFlags...)
	} else {
		src = e.verdict.PolicyFlags
	}

	seen := make(map[decision.PolicyFlag]bool, len(src))
	out := make([]string, 0, len(src))
	for _, f := range src {
		if !seen[f] {
			seen[f] = true
			out = append(out, string(f))
		}
	}
	return out
}

// WithExplanation attaches text rendered by the caller. Workers deliver it
// as is instead of rendering again.
func (e *Event) WithExplanation(text string) *Event {
	e.setExplanation(text)
	return e
}

// Explained reports whether operator text is already attached.
func (e *Event) Explained() bool { return e.explained }

// setExplanation attaches operator text to the payload.
func (e *Event) setExplanation(text string) {
	e.explained = true
	switch d := e.Data.(type) {
	case LiveResponse:
		d.Explanation = text
		e.Data = d
	case ModalityResponse:
		d.Explanation = text
		e.Data = d
	}
}

// JSON serializes the event
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// SSEFormat returns the event in Server-Sent Events format
func (e *Event) SSEFormat() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", e.Type, data, e.ID)), nil
}
