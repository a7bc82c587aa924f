package variables

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

const maxSecretLength = 4096

// Secret returns a string of the specified length whose characters are drawn
// uniformly and independently from the charset using a cryptographically
// strong source.
func Secret(length int, charset string) (string, error) {
	alphabet := []rune(charset)
	if len(alphabet) == 0 {
		return "", errors.New("secret charset must not be empty")
	}
	if length <= 0 || length > maxSecretLength {
		return "", errors.Errorf(
			"secret length must be between 1 and %d; got %d",
			maxSecretLength,
			length,
		)
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "error reading random source")
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// isSecretOf returns true if value could have been produced by
// Secret(length, charset).
func isSecretOf(value string, length int, charset string) bool {
	runes := []rune(value)
	if len(runes) != length {
		return false
	}
	for _, r := range runes {
		if !strings.ContainsRune(charset, r) {
			return false
		}
	}
	return true
}
