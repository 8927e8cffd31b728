// Package frame implements the wire framing shared by every connection:
// each message is carried as `[[[<B>]<payload>]]`, where B is the byte
// length of payload written in a private base-64 alphabet. The de-framer
// tolerates arbitrary TCP boundary chopping and resynchronizes after a
// malformed or oversize frame without tearing down the connection.
package frame

import "errors"

// alphabet is the private base-64 alphabet shared by every sender and
// receiver. It deliberately excludes '[' and ']' so the framing delimiters
// can never be confused with a length digit.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

const maxLengthChars = 4
const minLengthChars = 2

var reverseAlphabet [256]int8

func init() {
	for i := range reverseAlphabet {
		reverseAlphabet[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		reverseAlphabet[alphabet[i]] = int8(i)
	}
}

var (
	ErrOversize     = errors.New("frame: payload exceeds maxMessageSize")
	ErrLengthRange  = errors.New("frame: encoded length out of 2-4 char range")
	ErrBadLengthChr = errors.New("frame: non-alphabet character in length field")
)

func isAlphabetChar(c byte) bool {
	return reverseAlphabet[c] >= 0
}

// encodeLength renders n as 2-4 characters of the private alphabet,
// most-significant digit first, zero-padded to a minimum of 2 digits.
func encodeLength(n int) (string, error) {
	if n < 0 {
		return "", ErrLengthRange
	}
	var digits []byte
	x := n
	if x == 0 {
		digits = []byte{0}
	}
	for x > 0 {
		digits = append([]byte{byte(x % 64)}, digits...)
		x /= 64
	}
	for len(digits) < minLengthChars {
		digits = append([]byte{0}, digits...)
	}
	if len(digits) > maxLengthChars {
		return "", ErrLengthRange
	}
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[i] = alphabet[d]
	}
	return string(out), nil
}

// decodeLength parses a 2-4 character private-alphabet length field.
func decodeLength(s string) (int, error) {
	if len(s) < minLengthChars || len(s) > maxLengthChars {
		return 0, ErrLengthRange
	}
	n := 0
	for i := 0; i < len(s); i++ {
		v := reverseAlphabet[s[i]]
		if v < 0 {
			return 0, ErrBadLengthChr
		}
		n = n*64 + int(v)
	}
	return n, nil
}

// EncodeInt renders n in the private base-64 alphabet, most-significant
// digit first, no padding. Message-id generation shares this alphabet so
// ids stay compact and stable across peers.
func EncodeInt(n int64) string {
	if n <= 0 {
		return string(alphabet[0])
	}
	var digits []byte
	for x := n; x > 0; x /= 64 {
		digits = append([]byte{alphabet[x%64]}, digits...)
	}
	return string(digits)
}

// Frame renders payload as a complete wire frame: "[[[" + length + "]" +
// payload + "]]". It fails if payload exceeds maxMessageSize.
func Frame(payload []byte, maxMessageSize int) ([]byte, error) {
	if len(payload) > maxMessageSize {
		return nil, ErrOversize
	}
	lenStr, err := encodeLength(len(payload))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 3+len(lenStr)+1+len(payload)+2)
	out = append(out, '[', '[', '[')
	out = append(out, lenStr...)
	out = append(out, ']')
	out = append(out, payload...)
	out = append(out, ']', ']')
	return out, nil
}
