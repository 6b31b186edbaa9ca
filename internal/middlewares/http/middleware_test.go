package http_middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

// bodyVerifier accepts a signature equal to "<timestamp>:<body>".
type bodyVerifier struct{}

func (bodyVerifier) VerifySignature(timestamp int64, body []byte, signature string) bool {
	return signature == strconv.FormatInt(timestamp, 10)+":"+string(body)
}

func newSignedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(zerolog.Nop()))
	router.POST("/echo", SignatureAuth(bodyVerifier{}, time.Minute, zerolog.Nop()), func(c *gin.Context) {
		body, _ := c.GetRawData()
		c.String(http.StatusOK, string(body))
	})
	return router
}

// TestSignatureAuth tests accepted and rejected requests.
func TestSignatureAuth(t *testing.T) {
	now := time.Now().Unix()
	ts := strconv.FormatInt(now, 10)
	old := strconv.FormatInt(now-600, 10)

	tests := []struct {
		name      string
		timestamp string
		signature string
		code      int
	}{
		{name: "valid", timestamp: ts, signature: ts + `:{"a":1}`, code: http.StatusOK},
		{name: "bad signature", timestamp: ts, signature: ts + ":tampered", code: http.StatusUnauthorized},
		{name: "stale timestamp", timestamp: old, signature: old + `:{"a":1}`, code: http.StatusUnauthorized},
		{name: "missing timestamp", timestamp: "", signature: ts + `:{"a":1}`, code: http.StatusUnauthorized},
	}

	router := newSignedRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`))
			req.Header.Set("X-Timestamp", tt.timestamp)
			req.Header.Set("X-Signature", tt.signature)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, `{"a":1}`, rec.Body.String())
			}
		})
	}
}
