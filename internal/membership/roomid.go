package membership

import (
	"crypto/rand"
	"math/big"
)

// Room ids are short lowercase base-36 strings, externally visible and
// typed by players, so they stay short; collisions are handled by
// retry-on-create.
const (
	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	roomIDLength   = 6
)

// NewRoomID generates a random room id.
func NewRoomID() (string, error) {
	id := make([]byte, roomIDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomIDAlphabet))))
		if err != nil {
			return "", err
		}
		id[i] = roomIDAlphabet[n.Int64()]
	}
	return string(id), nil
}
