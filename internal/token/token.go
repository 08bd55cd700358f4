// Package token decodes the opaque payload that POS and ATM firmware append
// to their LNURL as the p query parameter.
//
// On the wire a token is unpadded base64url. The decoded bytes are the
// plaintext "<pin>:<amountInCents>" XORed with the device key, the key being
// repeated over the whole payload.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed token")

// Payload is the decrypted content of a device token.
type Payload struct {
	Pin           int
	AmountInCents int64
}

// Pad right-pads s with '=' up to a multiple of four characters.
func Pad(s string) string {
	if rem := len(s) % 4; rem > 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

// Decode decrypts token with key.
func Decode(key, token string) (Payload, error) {
	if key == "" {
		return Payload{}, fmt.Errorf("%w: device has no key", ErrMalformed)
	}
	data, err := base64.URLEncoding.DecodeString(Pad(token))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	plain := xor([]byte(key), data)

	pinStr, amountStr, ok := strings.Cut(string(plain), ":")
	if !ok {
		return Payload{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	}
	pin, err := parseUint(pinStr)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: pin: %v", ErrMalformed, err)
	}
	amount, err := parseUint(amountStr)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: amount: %v", ErrMalformed, err)
	}
	if pin > int64(^uint32(0)>>1) {
		return Payload{}, fmt.Errorf("%w: pin out of range", ErrMalformed)
	}
	return Payload{Pin: int(pin), AmountInCents: amount}, nil
}

// Encode is the firmware side of Decode. The result carries no padding.
func Encode(key string, p Payload) string {
	plain := fmt.Sprintf("%d:%d", p.Pin, p.AmountInCents)
	return base64.RawURLEncoding.EncodeToString(xor([]byte(key), []byte(plain)))
}

func xor(key, data []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// parseUint accepts only plain ASCII digits, no sign or whitespace.
func parseUint(s string) (int64, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid digit %q", c)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
