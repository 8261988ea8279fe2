package provision

import (
	"crypto/rand"
	"math/big"
)

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// PasswordFunc produces the initial password of a new student account.
type PasswordFunc func() (string, error)

// RandomPassword returns a PasswordFunc yielding alphanumeric passwords of
// minLen to maxLen characters.
func RandomPassword(minLen, maxLen int) PasswordFunc {
	if maxLen < minLen {
		maxLen = minLen
	}
	return func() (string, error) {
		n := minLen
		if maxLen > minLen {
			extra, err := rand.Int(rand.Reader, big.NewInt(int64(maxLen-minLen+1)))
			if err != nil {
				return "", err
			}
			n += int(extra.Int64())
		}

		buf := make([]byte, n)
		limit := big.NewInt(int64(len(passwordAlphabet)))
		for i := range buf {
			idx, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", err
			}
			buf[i] = passwordAlphabet[idx.Int64()]
		}
		return string(buf), nil
	}
}
