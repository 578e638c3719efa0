package keygen

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// alphabet intentionally drops 0/O/1/I so keys survive being read aloud or
// retyped from a printed card.
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Format describes the printed shape of a license key: Groups groups of
// GroupLen characters joined by dashes, e.g. 5x6 -> XXXXXX-XXXXXX-XXXXXX-XXXXXX-XXXXXX.
type Format struct {
	Groups   int
	GroupLen int
}

// DefaultFormat carries 150 bits of entropy (30 chars, 5 bits each), keeping
// the collision probability negligible for the unique-index retry loop.
var DefaultFormat = Format{Groups: 5, GroupLen: 6}

// Entropy returns the number of random bits a key of this format carries.
func (f Format) Entropy() int {
	return f.Groups * f.GroupLen * 5
}

// NewKey mints one random license key. Uniqueness is not guaranteed here;
// callers enforce it with the store's unique index and a bounded retry.
func NewKey(f Format) (string, error) {
	if f.Groups <= 0 || f.GroupLen <= 0 {
		f = DefaultFormat
	}

	groups := make([]string, 0, f.Groups)
	for g := 0; g < f.Groups; g++ {
		b := make([]byte, f.GroupLen)
		for i := range b {
			num, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				return "", err
			}
			b[i] = alphabet[num.Int64()]
		}
		groups = append(groups, string(b))
	}

	return strings.Join(groups, "-"), nil
}

// Normalize uppercases a client-supplied key and strips surrounding space so
// lookups are insensitive to copy/paste noise.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Mask renders a key for list views: first and last group visible, middle
// elided. Full keys only appear in the detail view.
func Mask(key string) string {
	parts := strings.Split(key, "-")
	if len(parts) < 3 {
		return "*****"
	}
	return parts[0] + "-****-" + parts[len(parts)-1]
}
