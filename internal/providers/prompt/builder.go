// Package prompt composes the text prompt sent to the video-generation
// model from product details supplied by the merchant.
package prompt

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BuildRequest carries the product details a prompt is composed from.
type BuildRequest struct {
	ProductTitle string
	ProductType  string
	Tone         string
	Instructions string
}

var toneStyles = map[string]string{
	"premium":  "cinematic lighting, slow camera pans, elegant studio backdrop",
	"playful":  "bright colors, quick cuts, upbeat energy",
	"minimal":  "clean white backdrop, soft shadows, product-centered framing",
	"outdoors": "natural daylight, lifestyle setting, handheld camera feel",
}

const defaultTone = "premium"

// Build composes a generation prompt for a short marketing video. Product
// names are title-cased so merchant-entered lowercase titles still read
// well in the generated captions.
func Build(req BuildRequest) string {
	c := cases.Title(language.Und)
	title := strings.TrimSpace(req.ProductTitle)
	if title == "" {
		title = "the product"
	} else {
		title = c.String(title)
	}

	tone := strings.ToLower(strings.TrimSpace(req.Tone))
	style, ok := toneStyles[tone]
	if !ok {
		style = toneStyles[defaultTone]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "A short marketing video showcasing %s", title)
	if productType := strings.TrimSpace(req.ProductType); productType != "" {
		fmt.Fprintf(&sb, ", a %s", strings.ToLower(productType))
	}
	fmt.Fprintf(&sb, ". %s.", style)
	if extra := strings.TrimSpace(req.Instructions); extra != "" {
		sb.WriteString(" ")
		sb.WriteString(extra)
	}
	return sb.String()
}
