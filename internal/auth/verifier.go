// Package auth validates Telegram Mini App init-data envelopes.
//
// An envelope is the URL-encoded bundle of launch parameters the Telegram
// client signs with the bot token. Validation follows the documented
// two-step scheme: the signing key is HMAC-SHA256 of the bot token keyed
// by the literal "WebAppData", and the envelope hash is HMAC-SHA256 of the
// sorted data-check-string keyed by that derived key.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	ErrMissingEnvelope   = errors.New("auth envelope is missing")
	ErrMalformedEnvelope = errors.New("auth envelope is not a valid query string")
	ErrMissingHash       = errors.New("auth envelope has no hash field")
	ErrSignatureMismatch = errors.New("auth envelope signature mismatch")
	ErrNotConfigured     = errors.New("bot token is not configured")
)

const signingKeyDomain = "WebAppData"

type Verifier struct {
	botToken        string
	allowUnverified bool
}

// NewVerifier builds a verifier for the given bot token. When the token is
// empty and allowUnverified is set, envelopes are accepted after structural
// checks only; callers are expected to log that mode loudly.
func NewVerifier(botToken string, allowUnverified bool) *Verifier {
	return &Verifier{botToken: botToken, allowUnverified: allowUnverified}
}

// Unverified reports whether the verifier is running in the insecure
// development bypass mode.
func (v *Verifier) Unverified() bool {
	return v.botToken == "" && v.allowUnverified
}

// Verify checks that envelope was signed by the Telegram client for this
// bot. It returns nil only when the embedded hash matches the recomputed
// signature (or structural checks pass in the insecure bypass mode).
func (v *Verifier) Verify(envelope string) error {
	if envelope == "" {
		return ErrMissingEnvelope
	}

	values, err := url.ParseQuery(envelope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return ErrMissingHash
	}
	values.Del("hash")

	if v.botToken == "" {
		if v.allowUnverified {
			return nil
		}
		return ErrNotConfigured
	}

	secret := hmacSHA256([]byte(signingKeyDomain), []byte(v.botToken))
	sum := hmacSHA256(secret, []byte(checkString(values)))
	expected := hex.EncodeToString(sum)

	if !hmac.Equal([]byte(expected), []byte(hash)) {
		return ErrSignatureMismatch
	}
	return nil
}

// checkString builds the data-check-string: all fields except hash, sorted
// by key in byte order, joined as key=value lines.
func checkString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, val := range values[k] {
			lines = append(lines, k+"="+val)
		}
	}
	return strings.Join(lines, "\n")
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
