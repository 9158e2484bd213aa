// internal/agent/observe.go
package agent

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/netwatch"
)

// TruncationMarker is appended to content cut at the budget.
const TruncationMarker = "\n... [content truncated] ..."

// Affordance selectors counted on every observation.
const (
	ButtonSelector = `button, input[type="button"], input[type="submit"]`
	FormSelector   = "form"
	InputSelector  = "input, textarea, select"
	LinkSelector   = "a[href]"
)

const (
	elementsPerKind   = 5
	previewBudget     = 2000
	formattedEventMax = 3
)

// observe captures the page state. Failures degrade to a minimal observation
// instead of aborting the step.
func (l *Loop) observe(ctx context.Context, page schemas.Page, corr *netwatch.Correlator) schemas.Observation {
	obs, err := l.capture(ctx, page, corr)
	if err != nil {
		l.logger.Warn("Observation failed.", zap.Error(err))
		url := "unknown"
		if page != nil {
			url = page.URL()
		}
		return schemas.Observation{
			URL:       url,
			Title:     "Error",
			Content:   fmt.Sprintf("Failed to observe page: %v", err),
			Timestamp: l.now(),
		}
	}
	return obs
}

func (l *Loop) capture(ctx context.Context, page schemas.Page, corr *netwatch.Correlator) (schemas.Observation, error) {
	obs := schemas.Observation{URL: page.URL(), Timestamp: l.now()}

	title, err := page.Title(ctx)
	if err != nil {
		return obs, fmt.Errorf("read title: %w", err)
	}
	obs.Title = title

	content, err := page.Content(ctx)
	if err != nil {
		return obs, fmt.Errorf("read content: %w", err)
	}
	if l.opts.CleanHTML {
		content = CleanHTML(content)
	}
	obs.Content, obs.ContentTruncated = Truncate(content, l.opts.ContentBudget)

	obs.ButtonCount = countSafe(ctx, page, ButtonSelector)
	obs.InputCount = countSafe(ctx, page, InputSelector)
	obs.ElementCount = obs.ButtonCount + obs.InputCount
	obs.HasButtons = obs.ButtonCount > 0
	obs.HasForms = countSafe(ctx, page, FormSelector) > 0

	for _, sel := range []string{ButtonSelector, InputSelector, LinkSelector} {
		infos, err := page.Locate(sel).Describe(ctx, elementsPerKind)
		if err != nil {
			l.logger.Debug("Element summary failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		obs.Elements = append(obs.Elements, infos...)
	}

	if l.opts.ScreenshotEveryStep {
		shot, err := page.Screenshot(ctx)
		if err != nil {
			l.logger.Warn("Screenshot failed.", zap.Error(err))
		} else {
			obs.Screenshot = shot
		}
	}

	if corr != nil {
		obs.NetworkEvents = corr.RecentEvents(l.opts.ObservationEventWindow, netwatch.Filter{APIOnly: true})
	}
	return obs, nil
}

func countSafe(ctx context.Context, page schemas.Page, selector string) int {
	n, err := page.Locate(selector).Count(ctx)
	if err != nil {
		return 0
	}
	return n
}

// -- Content shaping --

var strippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
}

// CleanHTML drops comments and script, style and noscript elements. Input
// that fails to parse is returned unchanged.
func CleanHTML(src string) string {
	if src == "" {
		return src
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	prune(doc)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return src
	}
	return buf.String()
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && strippedElements[c.DataAtom]) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

// Truncate cuts s to at most budget bytes on a rune boundary and appends
// TruncationMarker. A non-positive budget disables truncation.
func Truncate(s string, budget int) (string, bool) {
	if budget <= 0 || len(s) <= budget {
		return s, false
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker, true
}

// -- Formatting for the oracle --

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func elementKind(e schemas.ElementInfo) string {
	switch strings.ToLower(e.Tag) {
	case "button":
		return "button"
	case "a":
		return "link"
	case "input":
		switch strings.ToLower(e.Type) {
		case "button", "submit":
			return "button"
		}
		return "input"
	case "textarea", "select":
		return "input"
	}
	return ""
}

func describeElement(e schemas.ElementInfo) string {
	label := ""
	for _, v := range []string{e.Text, e.AriaLabel, e.Placeholder} {
		if v = strings.TrimSpace(v); v != "" {
			label = v
			break
		}
	}
	var hint string
	switch {
	case e.ID != "":
		hint = "#" + e.ID
	case e.Name != "":
		hint = fmt.Sprintf("[name=%q]", e.Name)
	}
	if e.Type != "" && elementKind(e) == "input" {
		if hint != "" {
			hint += " "
		}
		hint += "type=" + e.Type
	}
	switch {
	case label != "" && hint != "":
		return fmt.Sprintf("%q (%s)", label, hint)
	case label != "":
		return fmt.Sprintf("%q", label)
	default:
		return hint
	}
}

func summarizeElements(elements []schemas.ElementInfo) string {
	groups := map[string][]string{}
	for _, e := range elements {
		kind := elementKind(e)
		if kind == "" {
			continue
		}
		if d := describeElement(e); d != "" && len(groups[kind]) < elementsPerKind {
			groups[kind] = append(groups[kind], d)
		}
	}
	var lines []string
	for _, g := range []struct{ kind, title string }{
		{"button", "Buttons"},
		{"input", "Input fields"},
		{"link", "Links"},
	} {
		if items := groups[g.kind]; len(items) > 0 {
			lines = append(lines, g.title+": "+strings.Join(items, ", "))
		}
	}
	if len(lines) == 0 {
		return "No interactive elements found"
	}
	return strings.Join(lines, "\n")
}

// FormatObservation renders an observation as oracle input.
func FormatObservation(obs schemas.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page URL: %s\nPage Title: %s\n\n", obs.URL, obs.Title)
	fmt.Fprintf(&b, "Interactive Elements Summary:\n- Forms: %s\n- Buttons: %s\n- Total interactive elements: %d\n\n",
		yesNo(obs.HasForms), yesNo(obs.HasButtons), obs.ElementCount)
	fmt.Fprintf(&b, "Key Elements Found:\n%s\n\n", summarizeElements(obs.Elements))

	b.WriteString("Recent Network Activity:\n")
	events := obs.NetworkEvents
	if len(events) > formattedEventMax {
		events = events[len(events)-formattedEventMax:]
	}
	if len(events) == 0 {
		b.WriteString("- No recent API calls\n")
	}
	for _, ev := range events {
		status := "pending"
		switch {
		case ev.Status != 0:
			status = fmt.Sprintf("%d", ev.Status)
		case ev.FailureReason != "":
			status = "failed: " + ev.FailureReason
		}
		fmt.Fprintf(&b, "- %s %s -> %s\n", ev.Method, ev.URL, status)
	}

	preview, cut := Truncate(obs.Content, previewBudget)
	b.WriteString("\nPage Content Preview:\n")
	b.WriteString(preview)
	if !cut && obs.ContentTruncated {
		b.WriteString(TruncationMarker)
	}
	return b.String()
}
