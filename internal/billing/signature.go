package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureTolerance bounds how old a signed timestamp may be. Replays of
// authentic deliveries inside the window are harmless by idempotence.
const SignatureTolerance = 5 * time.Minute

// ErrBadSignature marks a delivery that failed the authenticity gate. This
// is terminal: the sender still holds the authentic original in its retry
// queue, so a 4xx-class rejection is the correct response.
var ErrBadSignature = errors.New("billing: invalid webhook signature")

// VerifySignature checks the processor's signature header against the exact
// raw body bytes. The header carries "t=<unix>,v1=<hex>" where v1 is
// HMAC-SHA256(secret, "<unix>.<body>"). Any malformed header, stale
// timestamp or digest mismatch collapses to ErrBadSignature.
func VerifySignature(secret, body []byte, header string, now time.Time) error {
	ts, provided, err := parseSignatureHeader(header)
	if err != nil {
		return ErrBadSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range provided {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

// Sign produces a signature header for the given body, used by tests and
// local tooling to fabricate authentic deliveries.
func Sign(secret, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts int64, sigs []string, err error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, errors.New("empty header")
	}
	sawTimestamp := false
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, err
			}
			sawTimestamp = true
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if !sawTimestamp || len(sigs) == 0 {
		return 0, nil, errors.New("incomplete header")
	}
	return ts, sigs, nil
}
