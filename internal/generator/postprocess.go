package generator

import (
	"regexp"
	"strings"
)

var (
	fenceLine  = regexp.MustCompile("(?m)^[ \t]*```.*$")
	headingRe  = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	bulletRe   = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+\.)[ \t]+`)
	emphasisRe = regexp.MustCompile(`\*([^*\n]+)\*`)
	underEmRe  = regexp.MustCompile(`(^|[^\w])_([^_\n]+)_($|[^\w])`)
	hashtagRe  = regexp.MustCompile(`#\w+`)
	spacesRe   = regexp.MustCompile(`[ \t]{2,}`)
	blanksRe   = regexp.MustCompile(`\n{3,}`)
)

// PostProcess cleans one raw generation result: structural markup is
// stripped first, then hashtag tokens are extracted from the already-plain
// body. Duplicate tags are preserved in emission order.
func PostProcess(raw string) (string, []string) {
	return ExtractTags(StripMarkup(raw))
}

// StripMarkup removes structural markup artifacts: code fence markers,
// heading markers, list bullets and emphasis markers. Content is kept.
func StripMarkup(s string) string {
	s = fenceLine.ReplaceAllString(s, "")
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = emphasisRe.ReplaceAllString(s, "$1")
	s = underEmRe.ReplaceAllString(s, "$1$2$3")
	// Stray markers left by unbalanced emphasis.
	s = strings.ReplaceAll(s, "*", "")
	s = strings.ReplaceAll(s, "`", "")
	return tidy(s)
}

// ExtractTags pulls every hashtag-shaped token out of the body, in order,
// and returns the body without them.
func ExtractTags(s string) (string, []string) {
	tags := hashtagRe.FindAllString(s, -1)
	body := hashtagRe.ReplaceAllString(s, "")
	return tidy(body), tags
}

func tidy(s string) string {
	s = spacesRe.ReplaceAllString(s, " ")
	s = blanksRe.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
