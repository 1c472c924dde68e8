package core

import (
	"crypto/rand"
	"math/big"
)

const (
	uidLetters  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	uidAlphabet = uidLetters + "0123456789"
	UIDLength   = 11
)

// IsValidUID reports whether uid is an 11 character alphanumeric identifier
// starting with a letter.
func IsValidUID(uid string) bool {
	if len(uid) != UIDLength {
		return false
	}
	for i := 0; i < len(uid); i++ {
		c := uid[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 && !isLetter {
			return false
		}
		if !isLetter && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func GenerateUID() string {
	out := make([]byte, UIDLength)
	out[0] = uidLetters[randomIndex(len(uidLetters))]
	for i := 1; i < UIDLength; i++ {
		out[i] = uidAlphabet[randomIndex(len(uidAlphabet))]
	}
	return string(out)
}

// UIDOrGenerate keeps a syntactically valid client UID and generates one otherwise.
func UIDOrGenerate(clientUID string) string {
	if IsValidUID(clientUID) {
		return clientUID
	}
	return GenerateUID()
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("core: crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}
