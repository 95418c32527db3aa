package pool

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Policy bounds pool creation and contributions.
type Policy struct {
	MinDuration     time.Duration // deadline must be strictly further away
	MaxDuration     time.Duration // deadline must be strictly closer
	MinContribution domain.Amount
	NameMax         int
}

// DefaultPolicy: more than 1 hour, less than 31 days, 1 token floor, 32 rune names.
func DefaultPolicy() Policy {
	return Policy{
		MinDuration:     time.Hour,
		MaxDuration:     31 * 24 * time.Hour,
		MinContribution: domain.USDC,
		NameMax:         32,
	}
}

// CheckDeadline validates the funding window starting at now.
func (p Policy) CheckDeadline(now, deadline time.Time) error {
	d := deadline.Sub(now)
	if d <= p.MinDuration {
		return domain.Fail(domain.PoolDeadlineTooShort, "duration", d.String(), "min", p.MinDuration.String())
	}
	if d >= p.MaxDuration {
		return domain.Fail(domain.PoolDeadlineTooLong, "duration", d.String(), "max", p.MaxDuration.String())
	}
	return nil
}

// CheckName validates and trims a pool name.
func (p Policy) CheckName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > p.NameMax {
		return "", domain.Fail(domain.PoolInvalidName, "length", n, "max", p.NameMax)
	}
	return name, nil
}

const (
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"
)

// CheckContentHash accepts an empty hash, a CIDv0 ("Qm" + 44 base58) or a
// base32 CIDv1 ("b" + at least 58 chars).
func CheckContentHash(h string) (string, error) {
	h = strings.TrimSpace(h)
	switch {
	case h == "":
		return "", nil
	case strings.HasPrefix(h, "Qm") && len(h) == 46 && only(h, base58Alphabet):
		return h, nil
	case strings.HasPrefix(h, "b") && len(h) >= 59 && only(h[1:], base32Alphabet):
		return h, nil
	}
	return "", domain.Fail(domain.PoolInvalidHash, "hash", h)
}

func only(s, alphabet string) bool {
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
