// Package webhooksig verifies inbound webhook signatures.
//
// Platform adapters use the HMAC helpers for their native headers
// (X-Shopify-Hmac-Sha256, X-WC-Webhook-Signature). Remote and generic
// platforms sign with the Openship-Signature header, an RFC 8941 dictionary:
//
//	Openship-Signature: t=1700000000, v1=:base64-hmac:
//
// where v1 is HMAC-SHA256 over "<t>.<body>".
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
)

// Header carries the Openship signature.
const Header = "Openship-Signature"

// DefaultTolerance bounds the age of a signed timestamp.
const DefaultTolerance = 5 * time.Minute

// ErrInvalidSignature is returned for a missing, malformed or wrong signature.
var ErrInvalidSignature = errors.New("webhooksig: invalid signature")

// HMACBase64 is the base64 HMAC-SHA256 of body.
func HMACBase64(secret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(mac(secret, body))
}

// VerifyHMACBase64 checks a base64 HMAC-SHA256 header value.
func VerifyHMACBase64(secret string, body []byte, got string) error {
	if secret == "" {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	got = strings.TrimSpace(got)
	if got == "" {
		return fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}
	sig, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		return fmt.Errorf("%w: not base64", ErrInvalidSignature)
	}
	if !hmac.Equal(sig, mac(secret, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces an Openship-Signature header value for body at now.
func Sign(secret string, body []byte, now time.Time) (string, error) {
	ts := now.Unix()
	dict := httpsfv.NewDictionary()
	dict.Add("t", httpsfv.NewItem(ts))
	dict.Add("v1", httpsfv.NewItem(mac(secret, signedPayload(ts, body))))
	return httpsfv.Marshal(dict)
}

// Verify checks an Openship-Signature header value. The timestamp must be
// within tolerance of now; tolerance <= 0 uses DefaultTolerance.
func Verify(secret string, body []byte, header string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: no secret configured", ErrInvalidSignature)
	}
	ts, sig, err := parse(header)
	if err != nil {
		return err
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	if !hmac.Equal(sig, mac(secret, signedPayload(ts, body))) {
		return ErrInvalidSignature
	}
	return nil
}

func parse(header string) (int64, []byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, Header)
	}
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	tm, ok := dict.Get("t")
	if !ok {
		return 0, nil, fmt.Errorf("%w: t not found", ErrInvalidSignature)
	}
	tItem, ok := tm.(httpsfv.Item)
	if !ok {
		return 0, nil, fmt.Errorf("%w: t must be an item", ErrInvalidSignature)
	}
	ts, ok := tItem.Value.(int64)
	if !ok {
		return 0, nil, fmt.Errorf("%w: t must be an integer", ErrInvalidSignature)
	}

	vm, ok := dict.Get("v1")
	if !ok {
		return 0, nil, fmt.Errorf("%w: v1 not found", ErrInvalidSignature)
	}
	vItem, ok := vm.(httpsfv.Item)
	if !ok {
		return 0, nil, fmt.Errorf("%w: v1 must be an item", ErrInvalidSignature)
	}
	sig, ok := vItem.Value.([]byte)
	if !ok {
		return 0, nil, fmt.Errorf("%w: v1 must be a byte sequence", ErrInvalidSignature)
	}
	return ts, sig, nil
}

func signedPayload(ts int64, body []byte) []byte {
	p := strconv.AppendInt(nil, ts, 10)
	p = append(p, '.')
	return append(p, body...)
}

func mac(secret string, data []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return h.Sum(nil)
}
