package http_utils

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStreamOpener_Open tests that the response body is exposed as a pollable stream.
func TestStreamOpener_Open(t *testing.T) {
	// Setup
	opener := NewStreamOpener("display-agent/test", StreamOptions{})
	httpmock.ActivateNonDefault(opener.client)
	defer httpmock.DeactivateAndReset()
	body := bytes.Repeat([]byte{0xAB}, 5000)
	httpmock.RegisterResponder("GET", "https://cdn.example.com/firmware.bin",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewBytesResponse(200, body)
			resp.ContentLength = int64(len(body))
			return resp, nil
		})

	// Execute
	stream, err := opener.Open(context.Background(), "https://cdn.example.com/firmware.bin")

	// Assert
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, int64(5000), stream.ContentLength())

	var got bytes.Buffer
	buf := make([]byte, 1024)
	deadline := time.Now().Add(2 * time.Second)
	for got.Len() < len(body) && time.Now().Before(deadline) {
		if stream.Available() == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		n, err := stream.Read(buf)
		got.Write(buf[:n])
		if err != nil && err != io.EOF {
			t.Fatalf("read failed: %v", err)
		}
	}
	assert.Equal(t, body, got.Bytes())
}

// TestStreamOpener_Open_BadStatus tests that a non-200 response does not open a stream.
func TestStreamOpener_Open_BadStatus(t *testing.T) {
	opener := NewStreamOpener("", StreamOptions{})
	httpmock.ActivateNonDefault(opener.client)
	defer httpmock.DeactivateAndReset()
	httpmock.RegisterResponder("GET", "https://cdn.example.com/missing.bin", httpmock.NewStringResponder(404, "not found"))

	stream, err := opener.Open(context.Background(), "https://cdn.example.com/missing.bin")

	assert.Nil(t, stream)
	assert.ErrorContains(t, err, "received status code: 404")
}

// TestStreamOpener_Open_HeaderTimeout tests that a server that never answers
// fails the open instead of hanging.
func TestStreamOpener_Open_HeaderTimeout(t *testing.T) {
	// Setup
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()
	opener := NewStreamOpener("", StreamOptions{ResponseHeaderTimeout: 50 * time.Millisecond})

	// Execute
	start := time.Now()
	stream, err := opener.Open(context.Background(), server.URL+"/firmware.bin")

	// Assert
	assert.Nil(t, stream)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// TestStreamOpener_Open_SlowBody tests that the header timeout does not bound
// the body.
func TestStreamOpener_Open_SlowBody(t *testing.T) {
	// Setup
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "6")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("abc"))
		w.(http.Flusher).Flush()
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("def"))
	}))
	defer server.Close()
	opener := NewStreamOpener("", StreamOptions{ResponseHeaderTimeout: 50 * time.Millisecond})

	// Execute
	stream, err := opener.Open(context.Background(), server.URL+"/firmware.bin")
	require.NoError(t, err)
	defer stream.Close()

	var got bytes.Buffer
	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for got.Len() < 6 && time.Now().Before(deadline) {
		if stream.Available() == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		n, _ := stream.Read(buf)
		got.Write(buf[:n])
	}

	// Assert
	assert.Equal(t, "abcdef", got.String())
}
