package matrix

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize/english"

	"github.com/isometry/ldapprobe/internal/probe"
)

// Report is the outcome of one matrix run.
type Report struct {
	ID        string                 `json:"id"`
	Host      string                 `json:"host"`
	Principal string                 `json:"principal"`
	Modes     []probe.ConnectionMode `json:"modes"`
	Started   time.Time              `json:"started"`
	Finished  time.Time              `json:"finished"`
	Results   []probe.Result         `json:"results"`
	Tallies   []Tally                `json:"tallies"`
}

// Tally summarizes the attempts of one mode.
type Tally struct {
	Mode      probe.ConnectionMode `json:"mode"`
	Attempts  int                  `json:"attempts"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Rejected  int                  `json:"rejected"`
	Warnings  int                  `json:"warnings"`
}

// AllSucceeded reports whether the run produced results and every one succeeded.
func (r *Report) AllSucceeded() bool {
	return len(r.Results) > 0 && r.Failed() == 0
}

// Failed counts failed attempts.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Succeeded() {
			n++
		}
	}
	return n
}

// FormatResult renders one attempt as a single line.
func FormatResult(res probe.Result) string {
	var b strings.Builder

	status := "ok"
	if !res.Succeeded() {
		status = "FAIL"
	}
	fmt.Fprintf(&b, "%-4s %-8s #%d %s (%s)", status, res.Mode, res.Attempt+1, res.Endpoint, formatLatency(res.Duration))

	if !res.Succeeded() {
		fmt.Fprintf(&b, ": %s", res.Detail)
	}
	if res.Identity != nil && res.Identity.AuthzID != "" {
		fmt.Fprintf(&b, " as %s", res.Identity.AuthzID)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "\n     warning: %s", w.Detail)
	}

	return b.String()
}

// WriteText writes a per-mode summary table.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "MODE\tATTEMPTS\tSUCCEEDED\tFAILED\tREJECTED\tWARNINGS")
	for _, t := range r.Tallies {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", t.Mode, t.Attempts, t.Succeeded, t.Failed, t.Rejected, t.Warnings)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	verdict := "all succeeded"
	if !r.AllSucceeded() {
		verdict = fmt.Sprintf("%s failed", english.Plural(r.Failed(), "attempt", ""))
	}

	_, err := fmt.Fprintf(w, "\n%s against %s in %s: %s\n",
		english.Plural(len(r.Results), "attempt", ""),
		r.Host,
		r.Finished.Sub(r.Started).Round(time.Millisecond),
		verdict,
	)
	return err
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func formatLatency(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(100 * time.Microsecond).String()
	default:
		return d.String()
	}
}
