package interpret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	urlPattern      = regexp.MustCompile(`(?i)\b((?:https?|file|about|data):[^\s"']+)`)
	domainPattern   = regexp.MustCompile(`(?i)\b((?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[^\s"']*)?)`)
	navigatePattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:go\s+to|navigate\s+to|open|visit|load|browse\s+to)\s+(.+)$`)
	fillPattern     = regexp.MustCompile(`(?i)^(?:please\s+)?(?:type|enter|input|write)\s+["']?(.+?)["']?\s+(?:in|into|on)\s+(?:the\s+)?(.+?)(?:\s+field|\s+box|\s+input)?$`)
	fillWithPattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:fill(?:\s+in)?|set)\s+(?:the\s+)?(.+?)(?:\s+field|\s+box|\s+input)?\s+(?:with|to)\s+["']?(.+?)["']?$`)
	clickPattern    = regexp.MustCompile(`(?i)^(?:please\s+)?(?:click|press|tap|select)(?:\s+on)?\s+(?:the\s+)?(.+?)(?:\s+button|\s+link)?$`)
	waitPattern     = regexp.MustCompile(`(?i)^(?:please\s+)?wait\s+(?:for|until)\s+(?:the\s+)?(.+?)(?:\s+(?:appears|is visible|shows up|loads))?$`)
	extractPattern  = regexp.MustCompile(`(?i)^(?:please\s+)?(?:extract|read|get|copy|show)(?:\s+(?:the|all))?\s+(?:text|content|contents)(?:\s+(?:of|from)\s+(?:the\s+)?(.+?))?$`)
	shotPattern     = regexp.MustCompile(`(?i)\b(?:screenshot|screen\s*shot|capture|snapshot)\b`)
)

// Rules interprets instructions with keyword patterns. It needs no external service.
type Rules struct{}

// NewRules returns the rule-based interpreter.
func NewRules() *Rules {
	return &Rules{}
}

// Interpret implements Interpreter.
func (r *Rules) Interpret(ctx context.Context, instruction string, _ PageContext) (Action, error) {
	if err := ctx.Err(); err != nil {
		return Action{}, err
	}
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(instruction), ".!"))
	if text == "" {
		return Action{}, fmt.Errorf("%w: empty instruction", ErrUninterpretable)
	}

	if m := navigatePattern.FindStringSubmatch(text); m != nil {
		if u := findURL(m[1]); u != "" {
			return Action{Type: ActionNavigate, URL: u, Reasoning: "navigation keyword"}, nil
		}
	}
	if shotPattern.MatchString(text) {
		return Action{Type: ActionScreenshot, Reasoning: "screenshot keyword"}, nil
	}
	if m := fillPattern.FindStringSubmatch(text); m != nil {
		return Action{Type: ActionFill, Selector: toSelector(m[2]), Value: m[1], Reasoning: "input keyword"}, nil
	}
	if m := fillWithPattern.FindStringSubmatch(text); m != nil {
		return Action{Type: ActionFill, Selector: toSelector(m[1]), Value: m[2], Reasoning: "fill keyword"}, nil
	}
	if m := waitPattern.FindStringSubmatch(text); m != nil {
		return Action{Type: ActionWait, Selector: toSelector(m[1]), Reasoning: "wait keyword"}, nil
	}
	if m := extractPattern.FindStringSubmatch(text); m != nil {
		a := Action{Type: ActionExtract, Reasoning: "extract keyword"}
		if m[1] != "" && !isWholePage(m[1]) {
			a.Selector = toSelector(m[1])
		}
		return a, nil
	}
	if m := clickPattern.FindStringSubmatch(text); m != nil {
		return Action{Type: ActionClick, Selector: toSelector(m[1]), Reasoning: "click keyword"}, nil
	}
	if u := findURL(text); u != "" {
		return Action{Type: ActionNavigate, URL: u, Reasoning: "bare url"}, nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUninterpretable, instruction)
}

// findURL returns the first URL or bare domain in text, adding https:// to domains.
func findURL(text string) string {
	if m := urlPattern.FindString(text); m != "" {
		return strings.TrimRight(m, ".,;)")
	}
	if m := domainPattern.FindString(text); m != "" {
		return "https://" + strings.TrimRight(m, ".,;)")
	}
	return ""
}

func isWholePage(target string) bool {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "page", "this page", "current page", "body", "whole page":
		return true
	}
	return false
}

// toSelector keeps CSS-looking targets and turns prose into a text selector.
func toSelector(target string) string {
	target = strings.Trim(strings.TrimSpace(target), `"'`)
	if target == "" {
		return target
	}
	switch target[0] {
	case '#', '.', '[', '/':
		return target
	}
	if strings.HasPrefix(target, "text=") || strings.HasPrefix(target, "css=") || strings.HasPrefix(target, "xpath=") {
		return target
	}
	if strings.ContainsAny(target, "[]>#") {
		return target
	}
	return fmt.Sprintf("text=%s", target)
}
