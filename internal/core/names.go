package core

import (
	"context"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const (
	maxNameLength     = 48
	nameSuffixLength  = 6
	maxUniqueAttempts = 10
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// Slugify lowercases the provided text and replaces every run of characters
// not permitted in a remote app name with a dash.
func Slugify(text string) string {
	slug := invalidNameChars.ReplaceAllString(strings.ToLower(text), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxNameLength-nameSuffixLength-1 {
		slug = strings.TrimRight(slug[:maxNameLength-nameSuffixLength-1], "-")
	}
	if slug == "" {
		slug = "svc"
	}
	return slug
}

// NameTaken is the signature for functions that report whether a name is
// already in use.
type NameTaken func(ctx context.Context, name string) (bool, error)

// UniqueName returns the slug of base if it is not taken and otherwise the
// slug with a random suffix that is not taken.
func UniqueName(ctx context.Context, base string, taken NameTaken) (string, error) {
	slug := Slugify(base)
	candidate := slug
	for i := 0; i < maxUniqueAttempts; i++ {
		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", errors.Wrapf(err, "error checking name %q", candidate)
		}
		if !exists {
			return candidate, nil
		}
		candidate = slug + "-" + uuid.NewV4().String()[:nameSuffixLength]
	}
	return "", errors.Errorf("could not find an unused name based on %q", base)
}
