package generation

import (
	"fmt"
	"strings"
)

// TravelParams carries the traveler's request into prompt construction.
type TravelParams struct {
	Source        string
	Destination   string
	Days          int
	TravelMode    string
	Preferences   []string
	Variation     int // ordinal among similar requests, surfaced to the model
	VariantNumber int // 1-based index of this themed variant
	TotalVariants int
}

// defaultPreferences are used when the traveler gave no location preferences.
var defaultPreferences = []string{
	"off-beat places",
	"mountains",
	"off-road adventures",
	"hidden gems",
	"scenic routes",
	"adventure activities",
	"local culture",
}

// buildUserPrompt instructs the model to return one itinerary as strict JSON
// matching the fixed schema.
func buildUserPrompt(theme Theme, params TravelParams) string {
	prefs := params.Preferences
	if len(prefs) == 0 {
		prefs = defaultPreferences
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate 1 travel itinerary for a %d day %s tour to %s starting from %s.\n\n",
		params.Days, params.TravelMode, params.Destination, params.Source)
	fmt.Fprintf(&b, "ITINERARY THEME: %s\nFOCUS: %s\nDIFFICULTY: %s\n\n", theme.Title, theme.Focus, theme.Difficulty)
	fmt.Fprintf(&b, "This should be itinerary #%d of %d, so make it UNIQUE and different from typical routes.\n",
		params.VariantNumber, params.TotalVariants)
	if params.Variation > 1 {
		fmt.Fprintf(&b, "This route has been requested %d times before; produce variation #%d with fresh waypoints.\n",
			params.Variation-1, params.Variation)
	}
	b.WriteString(`
Key requirements:
- Focus on the specified theme above
- Include off-beat and lesser-known destinations
- Suggest scenic routes appropriate for the difficulty level
- Incorporate experiences matching the theme
- Provide detailed waypoints with coordinates
- Include activities suitable for the theme
- Detailed timing and distance information
- Budget estimates and practical tips
- Accommodation suggestions matching the theme

`)
	fmt.Fprintf(&b, "Additional preferences: %s\n", strings.Join(prefs, ", "))
	b.WriteString(`
CRITICAL FORMATTING INSTRUCTIONS:
1. Return ONLY valid JSON - no markdown, no explanations, no code blocks
2. Start response with { and end with }
3. Use proper JSON syntax with double quotes
4. Do not include any text before or after the JSON object

Required JSON structure:
`)
	fmt.Fprintf(&b, `{
  "id": %d,
  "title": %q,
  "theme": %q,
  "overview": {
    "duration": %d,
    "startLocation": %q,
    "endLocation": %q,
    "travelMode": %q,
    "totalDistance": "approximate distance",
    "estimatedBudget": "budget range",
    "difficulty": %q
  },
  "days": [
    {
      "day": 1,
      "title": "Day title",
      "route": "Route description",
      "distance": "distance in km",
      "activities": ["activity1", "activity2"],
      "accommodation": "accommodation suggestion",
      "meals": "meal suggestions",
      "budget": "daily budget estimate",
      "highlights": ["highlight1", "highlight2"],
      "coordinates": {
        "start": "lat,lng",
        "end": "lat,lng"
      }
    }
  ]
}`, params.VariantNumber, theme.Title, theme.Focus, params.Days,
		params.Source, params.Destination, params.TravelMode, theme.Difficulty)
	return b.String()
}

// buildSystemPrompt pins the model to JSON-only output for the given theme.
func buildSystemPrompt(theme Theme) string {
	return fmt.Sprintf(`You are an expert travel planner. You MUST respond with valid JSON only.

CRITICAL RULES:
- NO markdown formatting (no `+"```json or ```"+`)
- NO explanatory text before or after JSON
- NO code blocks
- Start with { and end with }
- Use proper JSON syntax with double quotes
- Ensure all strings are properly escaped

Create a %s difficulty itinerary focused on: %s`, theme.Difficulty, theme.Focus)
}
