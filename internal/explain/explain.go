// Package explain renders short operator-facing explanations of verdicts.
package explain

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

const verdictTmpl = `{{.Modality}}: {{if not .Scored -}}
no score was available, the signal is treated as unavailable.
{{- else -}}
classified {{.Classification}} at {{printf "%.1f" .Percent}}% deepfake likelihood ({{.Category}} band), risk {{.Risk}}.
{{- end}}
{{- if .Flags}} Policy: {{join .Flags "; "}}.{{end}}
{{- if .Manual}} Manual inspection required.{{end}}`

const sessionTmpl = `Session {{.SessionID}}: {{.Outcome}}
{{- if .Reason}} ({{.Reason}}){{end}}. {{.Summary}}
{{- range .Lines}}
  - {{.}}
{{- end}}`

var reasonSummary = map[fusion.FailureReason]string{
	fusion.ReasonCodeMismatch:      "The spoken challenge code did not match the issued code.",
	fusion.ReasonDeepfakeDetected:  "At least one media channel shows strong signs of synthetic generation.",
	fusion.ReasonSignalUnavailable: "A required analysis channel could not produce a result, so no pass can be issued.",
	fusion.ReasonNone:              "All available channels are consistent with a live, genuine subject.",
}

// Explainer is immutable and safe for concurrent use.
type Explainer struct {
	verdict *template.Template
	session *template.Template
}

// New parses the built-in templates.
func New() (*Explainer, error) {
	funcs := template.FuncMap{"join": strings.Join}

	v, err := template.New("verdict").Funcs(funcs).Parse(verdictTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse verdict template: %w", err)
	}
	s, err := template.New("session").Funcs(funcs).Parse(sessionTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse session template: %w", err)
	}
	return &Explainer{verdict: v, session: s}, nil
}

type verdictParams struct {
	Modality       core.Modality
	Scored         bool
	Classification decision.Classification
	Category       string
	Percent        float64
	Risk           string
	Flags          []string
	Manual         bool
}

// Verdict explains a single-modality verdict.
func (e *Explainer) Verdict(v decision.Verdict) (string, error) {
	p := verdictParams{
		Modality:       v.Modality,
		Scored:         v.Scored,
		Classification: v.Classification,
		Category:       v.Category.String(),
		Percent:        v.ReportedConfidence() * 100,
		Risk:           v.RiskLevel.String(),
		Manual:         v.ActionRequired == decision.ActionManualInspection,
	}
	for _, f := range v.PolicyFlags {
		p.Flags = append(p.Flags, string(f))
	}

	var buf bytes.Buffer
	if err := e.verdict.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("execute verdict template: %w", err)
	}
	return buf.String(), nil
}

type sessionParams struct {
	SessionID string
	Outcome   fusion.Outcome
	Reason    fusion.FailureReason
	Summary   string
	Lines     []string
}

// Session explains a fused session verdict, one line per modality.
func (e *Explainer) Session(sv *fusion.SessionVerdict) (string, error) {
	p := sessionParams{
		SessionID: sv.SessionID,
		Outcome:   sv.Outcome,
		Reason:    sv.FailureReason,
		Summary:   reasonSummary[sv.FailureReason],
	}

	for _, v := range []decision.Verdict{sv.VideoVerdict, sv.AudioVerdict} {
		line, err := e.Verdict(v)
		if err != nil {
			return "", err
		}
		p.Lines = append(p.Lines, line)
	}
	p.Lines = append(p.Lines, codeLine(sv.Code))

	var buf bytes.Buffer
	if err := e.session.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("execute session template: %w", err)
	}
	return buf.String(), nil
}

func codeLine(sig core.ModalitySignal) string {
	if sig.Status == core.StatusFailed || sig.Code == nil || sig.Code.Matched == nil {
		msg := "not compared"
		if sig.Error != nil {
			msg = sig.Error.Message
		}
		return fmt.Sprintf("CODE: unavailable (%s).", msg)
	}
	verb := "matched"
	if !*sig.Code.Matched {
		verb = "did not match"
	}
	return fmt.Sprintf("CODE: spoken code %s the challenge (%.0f%% similarity).", verb, sig.Code.Confidence*100)
}
