package variables

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a variable expression.
type Kind string

const (
	// KindStatic is an expression with no {{ ... }} marker.
	KindStatic Kind = "static"
	// KindFunction is an expression that is entirely one marker calling
	// secret(<length>, "<charset>").
	KindFunction Kind = "function"
	// KindReference is an expression that is entirely one marker naming
	// another Service's variable as <service>.<VARIABLE>.
	KindReference Kind = "reference"
	// KindCombo is an expression with more than one marker or with a marker
	// alongside other text.
	KindCombo Kind = "combo"
	// KindUnknown is an expression that is entirely one marker whose content
	// is neither a function call nor a reference.
	KindUnknown Kind = "unknown"
)

var (
	markerRegex    = regexp.MustCompile(`(?s)\{\{\s*(.*?)\s*\}\}`)
	functionRegex  = regexp.MustCompile(`^secret\([ \t]*(\d+)[ \t]*,[ \t]*"([^"\n]*)"[ \t]*\)$`)
	referenceRegex = regexp.MustCompile(`^([A-Za-z0-9_-]+)\.([A-Za-z_][A-Za-z0-9_]*)$`)
)

// Classify returns the Kind of the provided expression. It is a pure function
// of the expression.
func Classify(expression string) Kind {
	content, ok := soleMarker(expression)
	if !ok {
		if markerRegex.MatchString(expression) {
			return KindCombo
		}
		return KindStatic
	}
	switch {
	case functionRegex.MatchString(content):
		return KindFunction
	case referenceRegex.MatchString(content):
		return KindReference
	}
	return KindUnknown
}

// soleMarker returns the trimmed content of the expression's only marker if
// that marker is the entire trimmed expression.
func soleMarker(expression string) (string, bool) {
	matches := markerRegex.FindAllStringSubmatch(expression, -1)
	if len(matches) != 1 {
		return "", false
	}
	if strings.TrimSpace(expression) != matches[0][0] {
		return "", false
	}
	return matches[0][1], true
}

// ParseFunction returns the arguments of a function expression.
func ParseFunction(expression string) (length int, charset string, ok bool) {
	content, ok := soleMarker(expression)
	if !ok {
		return 0, "", false
	}
	matches := functionRegex.FindStringSubmatch(content)
	if matches == nil {
		return 0, "", false
	}
	length, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return length, matches[2], true
}

// ParseReference returns the Service and variable named by a reference
// expression.
func ParseReference(expression string) (service string, variable string, ok bool) {
	content, ok := soleMarker(expression)
	if !ok {
		return "", "", false
	}
	matches := referenceRegex.FindStringSubmatch(content)
	if matches == nil {
		return "", "", false
	}
	return matches[1], matches[2], true
}

// RenameReferences rewrites every reference marker in the expression whose
// Service appears in the mapping to name the mapped Service instead. Markers
// of any other shape are left as they are.
func RenameReferences(expression string, mapping map[string]string) string {
	return markerRegex.ReplaceAllStringFunc(expression, func(marker string) string {
		content := markerRegex.FindStringSubmatch(marker)[1]
		matches := referenceRegex.FindStringSubmatch(content)
		if matches == nil {
			return marker
		}
		renamed, ok := mapping[matches[1]]
		if !ok {
			return marker
		}
		return "{{ " + renamed + "." + matches[2] + " }}"
	})
}
