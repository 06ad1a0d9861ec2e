package domain

// FrameStyle is one entry of the fixed eyewear catalog.
type FrameStyle struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Style       string `json:"style"`
	Description string `json:"description"`
}

// frameCatalog is the static set of frame styles the stylist model picks
// from. The order is load-bearing: the model answers with 1-based positions
// and the first two entries double as the deterministic fallback.
var frameCatalog = []FrameStyle{
	{
		ID:          "classic_rectangular",
		Name:        "Metal Rectangular",
		Style:       "rectangular metal",
		Description: "Rectangular frame with a metal chassis, professional and elegant. Suits round and oval faces.",
	},
	{
		ID:          "modern_round",
		Name:        "Round Acetate",
		Style:       "round acetate",
		Description: "Circular acetate frame with a retro-modern feel. Works best on square or angular faces.",
	},
	{
		ID:          "aviator_metal",
		Name:        "Metal Aviator",
		Style:       "aviator metal",
		Description: "Classic aviator with a double bridge and inverted teardrop lenses. Iconic and timeless, flatters square and rectangular faces.",
	},
	{
		ID:          "cat_eye_acetate",
		Name:        "Acetate Cat-Eye",
		Style:       "cat-eye acetate",
		Description: "Frame with lifted upper corners in a cat-eye silhouette. Feminine and vintage, adds angles and sophistication to round faces.",
	},
	{
		ID:          "wayfarer_acetate",
		Name:        "Acetate Wayfarer",
		Style:       "wayfarer acetate",
		Description: "Classic trapezoidal frame in thick acetate. Versatile and urban, flatters oval, round and heart-shaped faces.",
	},
	{
		ID:          "oversized_square",
		Name:        "Oversized Square",
		Style:       "oversized square acetate",
		Description: "Large square acetate frame. Modern statement piece, great for small or delicate faces that want impact.",
	},
	{
		ID:          "browline_combo",
		Name:        "Browline Combination",
		Style:       "browline combination",
		Description: "Thick upper rim in acetate or metal over a thin or rimless lower half. Retro-intellectual, flatters oval and triangular faces.",
	},
	{
		ID:          "geometric_angular",
		Name:        "Angular Geometric",
		Style:       "geometric angular",
		Description: "Octagonal or hexagonal frame shapes. Avant-garde and artistic, gives round and oval faces an angular contrast.",
	},
	{
		ID:          "semi_rimless",
		Name:        "Minimalist Semi-Rimless",
		Style:       "semi-rimless metal",
		Description: "Frame only along the top, lenses held by clear nylon. Light and discreet, suits any face, especially professionals.",
	},
	{
		ID:          "sport_wrap",
		Name:        "Wraparound Sport",
		Style:       "sport wraparound",
		Description: "Curved frame that wraps the face in a modern athletic style. Dynamic and youthful, suits angular and active faces.",
	},
}

// FrameCatalog returns a copy of the full catalog.
func FrameCatalog() []FrameStyle {
	out := make([]FrameStyle, len(frameCatalog))
	copy(out, frameCatalog)
	return out
}

// DefaultFrameStyles returns the deterministic fallback selection used when
// the stylist model's answer cannot be parsed.
func DefaultFrameStyles() []FrameStyle {
	return FrameCatalog()[:2]
}
