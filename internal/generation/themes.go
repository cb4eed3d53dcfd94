package generation

// Theme is a fixed stylistic preset driving one generation variant.
type Theme struct {
	Title      string
	Focus      string
	Difficulty string
}

// Themes are fixed and ordered; variants cycle through them by version.
var Themes = []Theme{
	{
		Title:      "Adventure Explorer Route",
		Focus:      "Maximum adventure and off-road experiences with challenging terrain, extreme sports, and wilderness camping",
		Difficulty: "challenging",
	},
	{
		Title:      "Cultural Heritage Trail",
		Focus:      "Balance of adventure with deep cultural immersion, local traditions, authentic stays, and community experiences",
		Difficulty: "moderate",
	},
	{
		Title:      "Scenic Discovery Path",
		Focus:      "Emphasis on breathtaking landscapes, photography spots, serene locations, and comfortable exploration",
		Difficulty: "easy",
	},
}

// ThemeForVersion maps a response's 1-based version onto the theme cycle.
func ThemeForVersion(version int) Theme {
	if version < 1 {
		version = 1
	}
	return Themes[(version-1)%len(Themes)]
}

// ClampVariantCount bounds the number of variants planned for one request.
func ClampVariantCount(n int) int {
	if n < 2 {
		return 2
	}
	if n > 3 {
		return 3
	}
	return n
}
