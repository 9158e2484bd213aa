// cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/netwatch"
)

// stepReport is the CLI view of one step: the page it observed and what it
// did there. The action is rendered in its wire form.
type stepReport struct {
	Number     int               `json:"step_number"`
	PageURL    string            `json:"url"`
	PageTitle  string            `json:"title,omitempty"`
	Elements   int               `json:"element_count"`
	Action     json.RawMessage   `json:"action,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
	Result     string            `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	Code       schemas.ErrorCode `json:"code,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Events     int               `json:"network_events"`
	describe   string
}

// sessionReport is what `run` and `batch` print for a session.
type sessionReport struct {
	SessionID string                `json:"session_id"`
	StartURL  string                `json:"start_url"`
	Goals     []string              `json:"goals"`
	Status    schemas.SessionStatus `json:"status"`
	Error     string                `json:"error,omitempty"`
	Steps     []stepReport          `json:"steps"`
	Network   *netwatch.Summary     `json:"network,omitempty"`
}

func newSessionReport(snap schemas.SessionSnapshot, summary *netwatch.Summary) sessionReport {
	r := sessionReport{
		SessionID: snap.ID,
		StartURL:  snap.StartURL,
		Goals:     snap.Goals,
		Status:    snap.Status,
		Error:     snap.Error,
		Steps:     make([]stepReport, 0, len(snap.Steps)),
		Network:   summary,
	}
	for _, s := range snap.Steps {
		sr := stepReport{
			Number:     s.Number,
			PageURL:    s.Observation.URL,
			PageTitle:  s.Observation.Title,
			Elements:   s.Observation.ElementCount,
			Reasoning:  s.Reasoning,
			Result:     s.Result,
			Error:      s.Error,
			Code:       s.Code,
			DurationMs: s.Duration.Milliseconds(),
			Events:     len(s.Observation.NetworkEvents),
			describe:   schemas.DescribeAction(s.Action),
		}
		if raw, err := schemas.MarshalAction(s.Action); err == nil {
			sr.Action = raw
		}
		r.Steps = append(r.Steps, sr)
	}
	return r
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// writeTable prints the step table followed by the session outcome.
func writeTable(w io.Writer, r sessionReport) error {
	fmt.Fprintf(w, "Session %s (%s)\n", r.SessionID, r.StartURL)
	fmt.Fprintf(w, "Goals: %s\n\n", strings.Join(r.Goals, "; "))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tPAGE\tACTION\tOUTCOME\tDURATION")
	for _, s := range r.Steps {
		outcome := s.Result
		if s.Error != "" {
			outcome = "error: " + s.Error
		}
		page := s.PageTitle
		if page == "" {
			page = s.PageURL
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%dms\n", s.Number, clip(page, 40), s.describe, clip(outcome, 80), s.DurationMs)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nStatus: %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}
	if n := r.Network; n != nil {
		fmt.Fprintf(w, "Network: %d requests, %d API, %d ok, %d failed, avg API %.0fms\n",
			n.TotalRequests, n.APIRequests, n.SuccessfulRequests, n.FailedRequests, n.AvgAPIResponseTimeMs)
	}
	return nil
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
