package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const DefaultAspectRatio = "1:1"

// PromptOptions are the studio selectors appended to the user's prompt.
// Known keys expand to a full descriptor; anything else is used verbatim.
type PromptOptions struct {
	Style    string
	Lighting string
	Camera   string
}

var styleDescriptors = map[string]string{
	"photorealistic": "photorealistic commercial product photography, high resolution",
	"studio":         "clean studio product shot on seamless background",
	"lifestyle":      "lifestyle scene, product in natural use",
	"minimalist":     "minimalist composition, generous negative space",
	"cinematic":      "cinematic look, shallow depth of field",
}

var lightingDescriptors = map[string]string{
	"soft":     "soft diffused lighting",
	"studio":   "professional studio lighting",
	"natural":  "natural daylight",
	"dramatic": "dramatic low-key lighting with strong shadows",
	"golden":   "warm golden hour light",
}

var cameraDescriptors = map[string]string{
	"front":         "straight-on front view",
	"three-quarter": "three-quarter angle view",
	"top-down":      "top-down flat lay",
	"close-up":      "macro close-up detail shot",
	"low-angle":     "low-angle hero shot",
}

// EnrichPrompt joins the prompt and the selected descriptors with ", ".
func EnrichPrompt(prompt string, opts PromptOptions) string {
	parts := make([]string, 0, 4)
	if p := strings.TrimSpace(prompt); p != "" {
		parts = append(parts, p)
	}
	for _, sel := range []struct {
		value string
		table map[string]string
	}{
		{opts.Style, styleDescriptors},
		{opts.Lighting, lightingDescriptors},
		{opts.Camera, cameraDescriptors},
	} {
		if d := describe(sel.value, sel.table); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, ", ")
}

func describe(value string, table map[string]string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if d, ok := table[strings.ToLower(value)]; ok {
		return d
	}
	return value
}

// Dimensions derives width and height from a "W:H" ratio: the longer side
// equals base and the other is rounded to the nearest pixel.
func Dimensions(ratio string, base int) (int, int, error) {
	if base <= 0 {
		return 0, 0, fmt.Errorf("%w: base dimension %d", ErrInvalidAspectRatio, base)
	}
	ratio = strings.TrimSpace(ratio)
	if ratio == "" {
		ratio = DefaultAspectRatio
	}
	w, h, ok := strings.Cut(ratio, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, ratio)
	}
	rw, errW := strconv.ParseFloat(strings.TrimSpace(w), 64)
	rh, errH := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if errW != nil || errH != nil || rw <= 0 || rh <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAspectRatio, ratio)
	}

	if rw >= rh {
		return base, int(math.Round(float64(base) * rh / rw)), nil
	}
	return int(math.Round(float64(base) * rw / rh)), base, nil
}
