package room

import (
	"math/rand"

	"github.com/google/uuid"
)

const hexDigits = "0123456789ABCDEF"

// RandomColor returns "#" followed by six uniformly chosen hex digits.
// Colors are cosmetic; two participants may end up with the same one.
func RandomColor() string {
	b := make([]byte, 7)
	b[0] = '#'
	for i := 1; i < len(b); i++ {
		b[i] = hexDigits[rand.Intn(len(hexDigits))]
	}
	return string(b)
}

// NewID returns a random UUIDv4 string, used for rooms and connections.
func NewID() string {
	return uuid.NewString()
}
