package sitegen

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Placeholders used when the model leaves a part of the bundle empty.
const (
	DefaultHTML = `<!DOCTYPE html><html><head><title>Website</title><link rel='stylesheet' href='styles.css'></head><body><h1>Generated Website</h1><script src='script.js' defer></script></body></html>`
	DefaultCSS  = "/* No styles generated */"
	DefaultJS   = "// No JavaScript generated"
)

const systemPrompt = `You are an expert web developer. Generate a complete, modern, responsive website based on the user's description.

IMPORTANT: You must return the code in a specific JSON format with separate files for HTML, CSS, and JavaScript.

Return ONLY a valid JSON object with this exact structure (no markdown, no code blocks, just pure JSON):
{
  "html": "<!DOCTYPE html>...",
  "css": "/* CSS styles */...",
  "js": "// JavaScript code..."
}

Rules for the code:
1. HTML file should link to styles.css and script.js using relative paths
2. Use <link rel="stylesheet" href="styles.css"> in the head
3. Use <script src="script.js" defer></script> before closing body tag
4. CSS should be modern with flexbox, grid, custom properties, gradients
5. Make it fully responsive with media queries
6. Use premium, professional design with smooth animations
7. JavaScript should handle interactivity (menu toggles, scroll effects, etc.)
8. Include proper meta tags and semantic HTML
9. Add realistic placeholder content
10. Make it visually impressive and modern

User request: `

var (
	openFence  = regexp.MustCompile("(?i)```json\\n?")
	plainFence = regexp.MustCompile("```\\n?")
)

// BuildPrompt returns the full prompt sent to the provider for a user request.
func BuildPrompt(userPrompt string) string {
	return systemPrompt + userPrompt
}

// ParseBundle extracts a Bundle from model output.
//
// The output is expected to be a JSON object with html, css and js fields,
// possibly wrapped in markdown code fences or surrounded by chatter. Output
// that is not JSON at all is used verbatim as the HTML. Empty parts are
// replaced with DefaultHTML, DefaultCSS and DefaultJS.
func ParseBundle(text string) Bundle {
	text = stripFences(text)

	var b Bundle
	if obj, ok := findObject(text); ok {
		b = Bundle{
			HTML: obj.Get("html").String(),
			CSS:  obj.Get("css").String(),
			JS:   obj.Get("js").String(),
		}
	} else {
		b.HTML = text
	}

	if strings.TrimSpace(b.HTML) == "" {
		b.HTML = DefaultHTML
	}
	if strings.TrimSpace(b.CSS) == "" {
		b.CSS = DefaultCSS
	}
	if strings.TrimSpace(b.JS) == "" {
		b.JS = DefaultJS
	}
	return b
}

func stripFences(text string) string {
	text = openFence.ReplaceAllString(text, "")
	text = plainFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// findObject parses text as JSON, falling back to the outermost {...} span
// when the model added prose around a bundle object.
func findObject(text string) (gjson.Result, bool) {
	if gjson.Valid(text) {
		return gjson.Parse(text), true
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return gjson.Result{}, false
	}
	inner := text[start : end+1]
	if !gjson.Valid(inner) {
		return gjson.Result{}, false
	}
	res := gjson.Parse(inner)
	if !res.IsObject() || !res.Get("html").Exists() {
		return gjson.Result{}, false
	}
	return res, true
}
