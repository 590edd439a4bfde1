package falai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/pixmuse/pixmuse-api/library/config"
)

func patchSleep(t *testing.T) *[]time.Duration {
	t.Helper()

	old := sleepWithContext
	waits := new([]time.Duration)
	sleepWithContext = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	t.Cleanup(func() { sleepWithContext = old })

	return waits
}

func newTestClient(apiBase string, maxRetries int) *Client {
	return New(&config.ProviderConfig{
		APIBase:    apiBase,
		APIKey:     "test-key",
		MaxRetries: maxRetries,
		Timeout:    5 * time.Second,
	}, nil)
}

// TestGenerateSuccess verifies a plain success returns the remote image URLs.
func TestGenerateSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn.example.com/a.png"},{"url":"https://cdn.example.com/b.png"}],"seed":42}`))
	}))
	defer srv.Close()

	refs, err := newTestClient(srv.URL, 3).Generate(context.Background(), GenerateRequest{
		Prompt:    "a cat in space",
		NumImages: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://cdn.example.com/a.png", "https://cdn.example.com/b.png"}, refs)
	require.Equal(t, "Key test-key", gotAuth)
}

// TestGenerateRetriesOnRateLimit verifies two 429s then a success makes
// exactly three provider calls with increasing minimum backoff.
func TestGenerateRetriesOnRateLimit(t *testing.T) {
	waits := patchSleep(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"detail":"too many requests"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn.example.com/a.png"}]}`))
	}))
	defer srv.Close()

	refs, err := newTestClient(srv.URL, 3).Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))

	require.Len(t, *waits, 2)
	require.GreaterOrEqual(t, (*waits)[0], time.Second)
	require.GreaterOrEqual(t, (*waits)[1], 2*time.Second)
	require.Greater(t, (*waits)[1], (*waits)[0]-time.Second)
}

// TestGenerateExhaustsRetries verifies a persistent rate limit surfaces
// ErrOverloaded after maxRetries additional attempts.
func TestGenerateExhaustsRetries(t *testing.T) {
	patchSleep(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"rate limit exceeded"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.ErrorIs(t, err, ErrOverloaded)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestGenerateNonRetryable verifies a non-rate-limit error fails after one call.
func TestGenerateNonRetryable(t *testing.T) {
	patchSleep(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"invalid prompt"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "unavailable")
	require.Contains(t, err.Error(), "invalid prompt")
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestGenerateRateLimitMessage verifies classification by message, not only status.
func TestGenerateRateLimitMessage(t *testing.T) {
	patchSleep(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"model rate limit reached, slow down"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn.example.com/a.png"}]}`))
	}))
	defer srv.Close()

	refs, err := newTestClient(srv.URL, 3).Generate(context.Background(), GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestGenerateImageToImage verifies the source image routes to the i2i model.
func TestGenerateImageToImage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"images":[{"url":"https://cdn.example.com/a.png"}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Generate(context.Background(), GenerateRequest{
		Prompt:   "p",
		ImageRef: "https://cdn.example.com/source.png",
	})
	require.NoError(t, err)
	require.Equal(t, "/"+defaultI2IModel, gotPath)
}

// TestGenerateMissingPrompt verifies an empty prompt never reaches the provider.
func TestGenerateMissingPrompt(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", 3)
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "   "})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnavailable))
}
