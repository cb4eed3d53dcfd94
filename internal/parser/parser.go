// Package parser turns raw, possibly malformed model output into structured
// itinerary JSON. Strategies are tried in a fixed order; the first one that
// yields valid JSON wins. When none does, a best-effort fallback structure is
// scraped out of the raw text so the pipeline still makes progress.
package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Parse methods recorded on the outcome, for observability and tests.
const (
	MethodCodeBlock       = "markdown_code_block"
	MethodDirectJSON      = "direct_json"
	MethodBraceExtraction = "brace_extraction"
	MethodJSONFixing      = "json_fixing"
	MethodFallback        = "enhanced_fallback"
)

// Outcome is the result of parsing one raw model response.
type Outcome struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Fallback *Fallback       `json:"fallbackData,omitempty"`
	Method   string          `json:"parseMethod"`
	RawText  string          `json:"-"`
}

// Fallback is the structured best-effort extraction produced when every JSON
// strategy failed.
type Fallback struct {
	Type          string        `json:"type"`
	Content       string        `json:"content"`
	ExtractedInfo ExtractedInfo `json:"extractedInfo"`
	Stats         FallbackStats `json:"stats"`
}

// ExtractedInfo holds the fields recognizable by regex in unstructured text.
type ExtractedInfo struct {
	Title         string        `json:"title,omitempty"`
	Theme         string        `json:"theme,omitempty"`
	Duration      int           `json:"duration,omitempty"`
	StartLocation string        `json:"startLocation,omitempty"`
	EndLocation   string        `json:"endLocation,omitempty"`
	TotalDistance string        `json:"totalDistance,omitempty"`
	Budget        string        `json:"budget,omitempty"`
	Days          []FallbackDay `json:"days"`
}

// FallbackDay marks one per-day entry found in the raw text.
type FallbackDay struct {
	Day   int    `json:"day"`
	Title string `json:"title"`
}

// FallbackStats summarizes what the fallback scan recovered.
type FallbackStats struct {
	TotalLines      int  `json:"totalLines"`
	TotalCharacters int  `json:"totalCharacters"`
	FoundDays       int  `json:"foundDays"`
	HasBasicInfo    bool `json:"hasBasicInfo"`
}

// strategy attempts to extract parseable JSON from raw text. A nil result
// means the strategy does not apply or the candidate was malformed; only
// malformed-JSON outcomes move the chain along.
type strategy struct {
	method  string
	extract func(text string) json.RawMessage
}

var strategies = []strategy{
	{MethodCodeBlock, extractCodeBlock},
	{MethodDirectJSON, extractDirect},
	{MethodBraceExtraction, extractBraces},
	{MethodJSONFixing, extractRepaired},
}

// Parse runs the fallback chain over raw model text.
func Parse(text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Outcome{
			Success:  false,
			Method:   MethodFallback,
			Fallback: buildFallback(text),
			RawText:  text,
		}
	}

	for _, s := range strategies {
		if data := s.extract(text); data != nil {
			return Outcome{
				Success: true,
				Data:    data,
				Method:  s.method,
				RawText: text,
			}
		}
	}

	return Outcome{
		Success:  false,
		Method:   MethodFallback,
		Fallback: buildFallback(text),
		RawText:  text,
	}
}

var codeBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```"),
	regexp.MustCompile("(?is)```\\s*(\\{.*?\\})\\s*```"),
	regexp.MustCompile("(?is)`(\\{.*?\\})`"),
}

// extractCodeBlock pulls JSON out of a fenced code block. Several fence
// styles are recognized; the first block that parses wins.
func extractCodeBlock(text string) json.RawMessage {
	for _, p := range codeBlockPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate)
		}
	}
	return nil
}

// extractDirect parses the whole trimmed text as JSON.
func extractDirect(text string) json.RawMessage {
	candidate := strings.TrimSpace(text)
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate)
	}
	return nil
}

// extractBraces takes the substring from the first '{' to the last '}'.
func extractBraces(text string) json.RawMessage {
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first == -1 || last == -1 || last <= first {
		return nil
	}
	candidate := text[first : last+1]
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate)
	}
	return nil
}

var (
	fenceMarkerRe   = regexp.MustCompile("(?i)```json\\s*|```\\s*")
	bracedRe        = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)(\w+)\s*:`)
	doubledQuoteRe  = regexp.MustCompile(`"{2,}`)
)

// extractRepaired applies common syntax repairs to the braced portion of the
// text: trailing commas dropped, single quotes normalized, bare keys quoted.
func extractRepaired(text string) json.RawMessage {
	stripped := fenceMarkerRe.ReplaceAllString(text, "")
	m := bracedRe.FindString(stripped)
	if m == "" {
		return nil
	}

	fixed := trailingCommaRe.ReplaceAllString(m, "$1")
	fixed = strings.ReplaceAll(fixed, "'", `"`)
	fixed = bareKeyRe.ReplaceAllString(fixed, `$1"$2":`)
	fixed = doubledQuoteRe.ReplaceAllString(fixed, `"`)

	if json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed)
	}
	return nil
}

var (
	titleQuotedRe = regexp.MustCompile(`(?i)"title":\s*"([^"]+)"`)
	titleBareRe   = regexp.MustCompile(`(?i)title:\s*([^\n,]+)`)
	themeRe       = regexp.MustCompile(`(?i)"theme":\s*"([^"]+)"`)
	durationRe    = regexp.MustCompile(`(?i)"duration":\s*(\d+)`)
	daysWordRe    = regexp.MustCompile(`(?i)(\d+)\s*days?`)
	startLocRe    = regexp.MustCompile(`(?i)"startLocation":\s*"([^"]+)"`)
	endLocRe      = regexp.MustCompile(`(?i)"endLocation":\s*"([^"]+)"`)
	distanceRe    = regexp.MustCompile(`(?i)"totalDistance":\s*"([^"]+)"`)
	budgetRe      = regexp.MustCompile(`(?i)"estimatedBudget":\s*"([^"]+)"`)
	dayMarkerRe   = regexp.MustCompile(`(?i)"day":\s*(\d+)`)
)

// buildFallback scans raw text for recognizable itinerary fields.
func buildFallback(text string) *Fallback {
	info := ExtractedInfo{Days: []FallbackDay{}}

	if m := titleQuotedRe.FindStringSubmatch(text); m != nil {
		info.Title = strings.TrimSpace(m[1])
	} else if m := titleBareRe.FindStringSubmatch(text); m != nil {
		info.Title = strings.TrimSpace(m[1])
	}
	if m := themeRe.FindStringSubmatch(text); m != nil {
		info.Theme = strings.TrimSpace(m[1])
	}
	if m := durationRe.FindStringSubmatch(text); m != nil {
		info.Duration, _ = strconv.Atoi(m[1])
	} else if m := daysWordRe.FindStringSubmatch(text); m != nil {
		info.Duration, _ = strconv.Atoi(m[1])
	}
	if m := startLocRe.FindStringSubmatch(text); m != nil {
		info.StartLocation = strings.TrimSpace(m[1])
	}
	if m := endLocRe.FindStringSubmatch(text); m != nil {
		info.EndLocation = strings.TrimSpace(m[1])
	}
	if m := distanceRe.FindStringSubmatch(text); m != nil {
		info.TotalDistance = strings.TrimSpace(m[1])
	}
	if m := budgetRe.FindStringSubmatch(text); m != nil {
		info.Budget = strings.TrimSpace(m[1])
	}

	for _, m := range dayMarkerRe.FindAllStringSubmatch(text, -1) {
		dayNumber, _ := strconv.Atoi(m[1])
		title := "Day " + m[1]
		// look for the day's own title inside the same object
		dayTitleRe := regexp.MustCompile(`(?i)"day":\s*` + m[1] + `[^}]*"title":\s*"([^"]+)"`)
		if tm := dayTitleRe.FindStringSubmatch(text); tm != nil {
			title = tm[1]
		}
		info.Days = append(info.Days, FallbackDay{Day: dayNumber, Title: title})
	}

	lines := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}

	return &Fallback{
		Type:          "enhanced_text_itinerary",
		Content:       text,
		ExtractedInfo: info,
		Stats: FallbackStats{
			TotalLines:      lines,
			TotalCharacters: len(text),
			FoundDays:       len(info.Days),
			HasBasicInfo:    info.Title != "" && info.Duration > 0,
		},
	}
}
