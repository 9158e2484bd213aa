// internal/oracle/prompt.go
package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// CorrectionMessage is replayed to the model after output that does not
// decode to an action.
const CorrectionMessage = "Invalid JSON. Please provide a valid action in JSON format only."

const actionSchemas = `Click: {"action": "click", "selector": "text=Continue"}
Fill: {"action": "fill", "selector": "input[name=email]", "value": "user@example.com", "press_enter": false}
Navigate: {"action": "goto", "url": "https://example.com/dashboard"}
Press Key: {"action": "press", "key": "Enter"}
Select: {"action": "select", "selector": "select[name=country]", "value": "TR"}
Wait: {"action": "wait_for_selector", "selector": "text=Welcome", "timeout_ms": 10000}
Assert URL: {"action": "assert_url_includes", "value": "/dashboard"}
Complete: {"action": "done", "summary": "Login completed, dashboard opened."}`

const rules = `Rules:
1. Use semantic selectors when possible (text=, role=, label=)
2. Be specific with selectors to avoid ambiguity
3. Only navigate if explicitly needed for the goal
4. Prefer clicking buttons over pressing Enter
5. Wait for important elements after navigation
6. Mark as done only when all goals are achieved
7. Work in the same language the user provided when summarizing results
8. To type profile secrets use the placeholders {{profile.password}} and {{profile.email}}; never invent credentials
9. You may add a short "reasoning" string field; output nothing except the JSON action`

func goalList(goals []string) string {
	if len(goals) == 0 {
		return "- Follow the user's instructions."
	}
	lines := make([]string, len(goals))
	for i, g := range goals {
		lines[i] = "- " + g
	}
	return strings.Join(lines, "\n")
}

// SystemPrompt builds the executor instructions for a set of goals.
func SystemPrompt(goals []string) string {
	var b strings.Builder
	b.WriteString("You are a browser automation agent. Analyze the current page and select the next action that moves the user closer to their goals while keeping the browser state stable.\n\n")
	b.WriteString("Session goals provided by the user:\n")
	b.WriteString(goalList(goals))
	b.WriteString("\n\nYou must respond with ONLY valid JSON matching one of these action schemas:\n\n")
	b.WriteString(actionSchemas)
	b.WriteString("\n\n")
	b.WriteString(rules)
	b.WriteString("\n")
	return b.String()
}

// UserPrompt renders the observation, goals and the tail of the history.
// window bounds how many history entries are shown.
func UserPrompt(observation string, goals []string, history []schemas.HistoryEntry, window int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current State:\n%s\n\nGoals to achieve:\n%s\n\n", observation, goalList(goals))

	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	if len(history) > 0 {
		b.WriteString("Recent actions:\n")
		for _, h := range history {
			result := h.Result
			if result == "" {
				result = "pending"
			}
			fmt.Fprintf(&b, "- %s: %s", schemas.DescribeAction(h.Action), result)
			if h.Error != "" {
				fmt.Fprintf(&b, " (error: %s)", h.Error)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nWhat is the next action? Respond with JSON only.")
	return b.String()
}

// ProfileHints describes the operator profile without exposing the password
// value. Extra data is listed by key only.
func ProfileHints(p *schemas.Profile) string {
	if p == nil {
		return ""
	}
	var lines []string
	if p.Email != "" {
		lines = append(lines, fmt.Sprintf("- Email: %s (placeholder {{profile.email}})", p.Email))
	}
	if p.Password != "" {
		lines = append(lines, "- Password: available, type it with the placeholder {{profile.password}}")
	}
	if len(p.ExtraData) > 0 {
		keys := make([]string, 0, len(p.ExtraData))
		for k := range p.ExtraData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: available as {{profile.%s}}", k, k))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "User Profile:\n" + strings.Join(lines, "\n")
}
