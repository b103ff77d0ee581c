package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Respondr/internal/telemetry"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tracer, meter := telemetry.Nop()
	return NewClient(Options{
		BaseURL: srv.URL,
		Model:   "gemini-2.0-flash",
		Timeout: 5 * time.Second,
		Tracer:  tracer,
		Meter:   meter,
	}), srv
}

func TestGenerate_SendsPromptAndReadsFirstPart(t *testing.T) {
	var got GenerateRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"first"},{"text":"second"}]}},{"content":{"parts":[{"text":"other"}]}}]}`)
	})

	reply, err := client.Generate(context.Background(), "secret key", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "first", reply)
	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 1)
	assert.Equal(t, "hello there", got.Contents[0].Parts[0].Text)
}

func TestGenerate_NoCandidates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	})
	reply, err := client.Generate(context.Background(), "k", "hi")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestGenerate_APIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})

	_, err := client.Generate(context.Background(), "bad", "hi")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "API key not valid", Describe(err))
}

func TestGenerate_APIErrorWithoutMessage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `<html>oops</html>`)
	})

	_, err := client.Generate(context.Background(), "k", "hi")
	assert.Equal(t, "Unknown error", Describe(err))
}

func TestGenerate_MalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":`)
	})
	_, err := client.Generate(context.Background(), "k", "hi")
	require.Error(t, err)
	assert.Contains(t, Describe(err), "failed to unmarshal response")
}

func TestGenerate_TransportErrorHidesKey(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.Generate(context.Background(), "top-secret", "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "top-secret")
	assert.Contains(t, err.Error(), "failed to send request")
}

func TestVerify_StatusOnly(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), ProbePrompt)
		if r.URL.Query().Get("key") == "good" {
			fmt.Fprint(w, `not even json`)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})

	assert.True(t, client.Verify(context.Background(), "good"))
	assert.False(t, client.Verify(context.Background(), "bad"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestVerify_TransportFailure(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()
	assert.False(t, client.Verify(context.Background(), "k"))
}

func TestDescribe(t *testing.T) {
	assert.Empty(t, Describe(nil))
	assert.Equal(t, "request timed out", Describe(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
	assert.Equal(t, "quota", Describe(fmt.Errorf("x: %w", &APIError{StatusCode: 429, Message: "quota"})))
}

func TestFingerprint(t *testing.T) {
	assert.Empty(t, Fingerprint(""))
	fp := Fingerprint("AIzaSecret")
	assert.Len(t, fp, 8)
	assert.Equal(t, fp, Fingerprint("AIzaSecret"))
	assert.NotEqual(t, fp, Fingerprint("AIzaOther"))
	assert.False(t, strings.Contains(fp, "Secret"))
}

func TestSDK_GenerateAndVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		key := r.Header.Get("x-goog-api-key")
		if key == "" {
			key = r.URL.Query().Get("key")
		}
		w.Header().Set("Content-Type", "application/json")
		if key != "good" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"from sdk"}]}}]}`)
	}))
	defer srv.Close()

	tracer, _ := telemetry.Nop()
	sdk := NewSDK(Options{BaseURL: srv.URL, Model: "gemini-2.0-flash", Timeout: 5 * time.Second, Tracer: tracer})

	reply, err := sdk.Generate(context.Background(), "good", "hi")
	require.NoError(t, err)
	assert.Equal(t, "from sdk", reply)

	assert.True(t, sdk.Verify(context.Background(), "good"))
	assert.False(t, sdk.Verify(context.Background(), "bad"))
}
