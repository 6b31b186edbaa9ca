package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/benmeehan/display-agent/pkg/file"
)

// RequestSigner adds device authentication headers to API requests.
type RequestSigner interface {
	SignRequest(req *http.Request, body []byte)
}

// HMACSigner signs requests with HMAC-SHA256 over
// "<serial>:<unix timestamp>:<hex sha256 of body>".
type HMACSigner struct {
	serial     string
	signingKey []byte
	now        func() time.Time
}

// NewHMACSigner creates a signer for the device serial.
func NewHMACSigner(serial string, signingKey []byte) *HMACSigner {
	return &HMACSigner{serial: serial, signingKey: signingKey, now: time.Now}
}

// LoadHMACSigner reads the signing key from keyPath.
func LoadHMACSigner(serial, keyPath string, fileClient file.FileOperations) (*HMACSigner, error) {
	key, err := fileClient.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	if key == "" {
		return nil, fmt.Errorf("signing key %s is empty", keyPath)
	}
	return NewHMACSigner(serial, []byte(key)), nil
}

// Signature computes the base64 HMAC for the given timestamp and body.
func (s *HMACSigner) Signature(timestamp int64, body []byte) string {
	bodyHash := sha256.Sum256(body)
	message := s.serial + ":" + strconv.FormatInt(timestamp, 10) + ":" + hex.EncodeToString(bodyHash[:])

	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by Signature.
func (s *HMACSigner) VerifySignature(timestamp int64, body []byte, signature string) bool {
	expected, err := base64.StdEncoding.DecodeString(s.Signature(timestamp, body))
	if err != nil {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}

// SignRequest sets X-Device-Serial, X-Timestamp and X-Signature on req.
func (s *HMACSigner) SignRequest(req *http.Request, body []byte) {
	ts := s.now().Unix()
	req.Header.Set("X-Device-Serial", s.serial)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", s.Signature(ts, body))
}
