package rag

import (
	"encoding/json"
	"regexp"
	"strings"

	ragerr "github.com/DominikGorecki/psychrag-sub002/internal/errors"
	"github.com/DominikGorecki/psychrag-sub002/internal/store"
)

// ParsedExpansion is the structured output of the expansion model.
type ParsedExpansion struct {
	Expanded []string
	Hyde     string
	Intent   store.Intent
	Entities []string
}

type expansionJSON struct {
	Expanded  []string `json:"expanded"`
	Expanded2 []string `json:"expanded_queries"`
	Hyde      string   `json:"hyde"`
	Hyde2     string   `json:"hyde_answer"`
	Intent    string   `json:"intent"`
	Entities  []string `json:"entities"`
}

var (
	fencePattern   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	listPattern    = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s*(.+)$`)
	sectionPattern = regexp.MustCompile(`(?i)^\s*(expanded(?:\s+queries)?|hyde(?:\s+answer)?|intent|entities)\s*:\s*(.*)$`)
)

// ParseExpansion parses a model response into its structured parts.
// It tries JSON first, including JSON wrapped in code fences or
// surrounded by prose, then falls back to labeled-section parsing.
// A response yielding neither queries nor entities nor a hyde answer
// is a parse failure.
func ParseExpansion(response string) (ParsedExpansion, error) {
	if parsed, ok := parseExpansionJSON(response); ok {
		return parsed, nil
	}
	if parsed, ok := parseExpansionSections(response); ok {
		return parsed, nil
	}
	return ParsedExpansion{}, ragerr.New(ragerr.ErrCodeParseWarning,
		"expansion response has no recognizable structure", nil)
}

func parseExpansionJSON(response string) (ParsedExpansion, bool) {
	for _, candidate := range jsonCandidates(response) {
		var raw expansionJSON
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		parsed := ParsedExpansion{
			Expanded: cleanList(append(raw.Expanded, raw.Expanded2...)),
			Hyde:     strings.TrimSpace(firstNonEmpty(raw.Hyde, raw.Hyde2)),
			Intent:   store.ParseIntent(strings.ToUpper(strings.TrimSpace(raw.Intent))),
			Entities: dedupeEntities(raw.Entities),
		}
		if !parsed.empty() {
			return parsed, true
		}
	}
	return ParsedExpansion{}, false
}

// jsonCandidates extracts substrings worth trying as JSON: fenced
// blocks first, then the outermost brace span, then the raw text.
func jsonCandidates(response string) []string {
	var candidates []string
	for _, m := range fencePattern.FindAllStringSubmatch(response, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	open := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if open >= 0 && end > open {
		candidates = append(candidates, response[open:end+1])
	}
	candidates = append(candidates, strings.TrimSpace(response))
	return candidates
}

func parseExpansionSections(response string) (ParsedExpansion, bool) {
	var parsed ParsedExpansion
	var hydeLines []string
	section := ""

	for _, line := range strings.Split(response, "\n") {
		if m := sectionPattern.FindStringSubmatch(line); m != nil {
			section = sectionKey(m[1])
			if rest := strings.TrimSpace(m[2]); rest != "" {
				parsed.absorb(section, rest, &hydeLines)
			}
			continue
		}
		if section == "" {
			continue
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if m := listPattern.FindStringSubmatch(line); m != nil {
			text = strings.TrimSpace(m[1])
		}
		parsed.absorb(section, text, &hydeLines)
	}

	parsed.Hyde = strings.TrimSpace(strings.Join(hydeLines, "\n"))
	parsed.Expanded = cleanList(parsed.Expanded)
	parsed.Entities = dedupeEntities(parsed.Entities)
	if parsed.Intent == "" {
		parsed.Intent = store.IntentUnknown
	}
	if parsed.empty() {
		return ParsedExpansion{}, false
	}
	return parsed, true
}

func sectionKey(label string) string {
	switch strings.ToLower(strings.Fields(label)[0]) {
	case "expanded":
		return "expanded"
	case "hyde":
		return "hyde"
	case "intent":
		return "intent"
	case "entities":
		return "entities"
	}
	return ""
}

func (p *ParsedExpansion) absorb(section, text string, hydeLines *[]string) {
	switch section {
	case "expanded":
		p.Expanded = append(p.Expanded, text)
	case "hyde":
		*hydeLines = append(*hydeLines, text)
	case "intent":
		p.Intent = store.ParseIntent(strings.ToUpper(text))
	case "entities":
		for _, e := range strings.Split(text, ",") {
			p.Entities = append(p.Entities, strings.TrimSpace(e))
		}
	}
}

func (p ParsedExpansion) empty() bool {
	return len(p.Expanded) == 0 && len(p.Entities) == 0 && p.Hyde == ""
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dedupeEntities drops blanks and case-insensitive duplicates,
// keeping the first casing seen.
func dedupeEntities(entities []string) []string {
	seen := make(map[string]bool, len(entities))
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key := strings.ToLower(e)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
