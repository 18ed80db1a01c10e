package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// RoomPassword gates initial room entry. When disabled, every password
// validates; when enabled, an exact match is required.
type RoomPassword struct {
	enabled  bool
	password string
}

func NewRoomPassword(enabled bool, password string) RoomPassword {
	return RoomPassword{enabled: enabled, password: password}
}

// Required reports whether clients must present a room password.
func (p RoomPassword) Required() bool { return p.enabled }

// Validate checks a caller-supplied password in constant time.
func (p RoomPassword) Validate(password string) bool {
	if !p.enabled {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(p.password)) == 1
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePassword returns a random alphanumeric password. Used when room
// protection is enabled without an explicit password configured.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = 12
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
