package betting

import "crypto/rand"

// codeAlphabet matches the share links the web client already understands:
// digits plus lower- and upper-case ASCII letters.
const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// codeLength is the initial share-code length.
	codeLength = 8
	// codeAttempts bounds collision retries at creation; each retry grows
	// the code by one character.
	codeAttempts = 5
)

// newCode returns a random share code of the given length. The modulo bias
// over a 62-char alphabet is negligible for this purpose.
func newCode(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms.
		panic("betting: read random bytes: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
