package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"

	// DefaultTolerance is the maximum accepted age of a signed payload.
	DefaultTolerance = 5 * time.Minute

	// Accepted clock skew for timestamps from the future.
	futureSkew = time.Minute
)

// SignatureHeaders carries a timestamp-bound HMAC signature.
type SignatureHeaders struct {
	Signature string
	Timestamp int64
}

// Apply sets the signature headers on h.
func (s SignatureHeaders) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
}

// SignPayload signs payload for the given time as HMAC-SHA256(secret, timestamp + "." + payload).
// Relays in front of the service and tests use it to produce verifiable requests.
func SignPayload(secret string, payload []byte, at time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	ts := at.Unix()
	return SignatureHeaders{Signature: computeSignature(secret, ts, payload), Timestamp: ts}, nil
}

// VerifySignature checks the signature and rejects payloads older than maxAge
// or more than a minute in the future. A zero maxAge disables the age check.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if headers.Signature == "" {
		return fmt.Errorf("%w: signature is missing", ErrInvalidSignature)
	}

	if maxAge > 0 {
		age := now.Sub(time.Unix(headers.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: signature timestamp too old: %v", ErrInvalidSignature, age)
		}
		if age < -futureSkew {
			return fmt.Errorf("%w: signature timestamp is in the future", ErrInvalidSignature)
		}
	}

	expected := computeSignature(secret, headers.Timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

// ExtractSignatureHeaders reads the signature headers from an HTTP request.
func ExtractSignatureHeaders(h http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{Signature: h.Get(HeaderSignature)}
	if raw := h.Get(HeaderTimestamp); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return SignatureHeaders{}, fmt.Errorf("%w: invalid timestamp format", ErrInvalidSignature)
		}
		sig.Timestamp = ts
	}
	if sig.Signature == "" || sig.Timestamp == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: missing required signature headers", ErrInvalidSignature)
	}
	return sig, nil
}

func computeSignature(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// HMACVerifier authenticates events signed with SignPayload.
type HMACVerifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewHMACVerifier creates a verifier for the shared secret. A non-positive
// tolerance falls back to DefaultTolerance.
func NewHMACVerifier(secret string, tolerance time.Duration) (*HMACVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &HMACVerifier{secret: secret, tolerance: tolerance, now: time.Now}, nil
}

func (v *HMACVerifier) Verify(payload []byte, header http.Header) (*Event, error) {
	sig, err := ExtractSignatureHeaders(header)
	if err != nil {
		return nil, err
	}
	if err := VerifySignature(v.secret, payload, sig, v.tolerance, v.now()); err != nil {
		return nil, err
	}

	ev, err := ParseEvent(payload)
	if err != nil {
		// A correctly signed but malformed body is still not a usable event.
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	return ev, nil
}
