package utility

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// signatureReplayWindow is the maximum allowed skew between the request
// timestamp header and the server clock.
const signatureReplayWindow = 5 * time.Minute

// signatureNow is indirected for tests.
var signatureNow = time.Now

// VerifySlackSignature checks that an inbound webhook genuinely originated
// from Slack. The basestring is computed over the raw, unparsed body bytes;
// hashing a re-serialized body would not round-trip and must never be done.
// Any parse failure (missing or non-numeric timestamp, empty signature)
// yields false rather than an error so callers treat every failure uniformly
// as unauthorized.
func VerifySlackSignature(secret, timestampHeader string, body []byte, signatureHeader string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(signatureHeader) == "" {
		return false
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(timestampHeader), 10, 64)
	if err != nil {
		return false
	}
	skew := signatureNow().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(signatureReplayWindow/time.Second) {
		return false
	}
	expected := ComputeSlackSignature(secret, timestampHeader, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signatureHeader)))
}

// ComputeSlackSignature returns the "v0=<hex>" signature for the given
// timestamp header value and raw body. Exposed so tests and local tooling can
// sign synthetic requests.
func ComputeSlackSignature(secret, timestampHeader string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", strings.TrimSpace(timestampHeader), body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
