package matchmaking

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
)

const (
	// AliasLength is the number of characters of a room code
	AliasLength = 5

	// aliasChars leaves out characters that are easy to misread.
	aliasChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxAliasAttempts = 16
)

// GenerateAlias returns a random human friendly room code.
func GenerateAlias() string {
	code := make([]byte, AliasLength)
	for i := range AliasLength {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(aliasChars))))
		if err != nil {
			code[i] = aliasChars[rand.Intn(len(aliasChars))]
			continue
		}
		code[i] = aliasChars[n.Int64()]
	}
	return string(code)
}
