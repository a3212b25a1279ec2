package gateway_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/ymparistovahti/vahti/pkg/gateway"
)

// noSleep replaces backoff waits so retry tests run instantly
func noSleep(ctx context.Context, d time.Duration) error {
	return nil
}

func TestFetchSendsPoliteHeaders(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	g := gateway.NewForTest(
		gateway.WithContact("watchdog@example.fi"),
		gateway.WithRateInterval(time.Millisecond),
	)
	resp, err := g.Fetch(context.Background(), srv.URL)
	gt.NoError(t, err).Required()

	gt.Value(t, resp.Text()).Equal("ok")
	gt.Bool(t, strings.Contains(gotUA, "watchdog@example.fi")).True()
	gt.Value(t, gotLang).Equal("fi-FI,fi;q=0.9,en;q=0.8")
}

func TestFetchRetriesOn429WithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	var slept []time.Duration
	g := gateway.NewForTest(
		gateway.WithRateInterval(time.Millisecond),
		gateway.WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	resp, err := g.Fetch(context.Background(), srv.URL)
	gt.NoError(t, err).Required()

	gt.Value(t, resp.Text()).Equal("finally")
	gt.Value(t, calls.Load()).Equal(int32(2))
	gt.Array(t, slept).Length(1)
	gt.Value(t, slept[0]).Equal(2 * time.Second)
}

func TestFetchDoesNotRetryPlain404(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := gateway.NewForTest(
		gateway.WithRateInterval(time.Millisecond),
		gateway.WithSleep(noSleep),
	)

	_, err := g.Fetch(context.Background(), srv.URL)
	gt.Value(t, err).NotNil()
	gt.Value(t, gateway.Kind(err)).Equal("status_4xx")
	gt.Value(t, calls.Load()).Equal(int32(1))
	gt.Bool(t, gateway.IsPermanent(err)).True()
}

func TestFetchRetriesServerErrorsThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := gateway.NewForTest(
		gateway.WithRateInterval(time.Millisecond),
		gateway.WithSleep(noSleep),
	)

	_, err := g.Fetch(context.Background(), srv.URL)
	gt.Value(t, err).NotNil()
	gt.Value(t, gateway.Kind(err)).Equal("status_5xx")
	gt.Value(t, calls.Load()).Equal(int32(4))
}

func TestFetchRejectsOversizeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	g := gateway.NewForTest(
		gateway.WithRateInterval(time.Millisecond),
		gateway.WithMaxBody(1024),
		gateway.WithSleep(noSleep),
	)

	_, err := g.Fetch(context.Background(), srv.URL)
	gt.Value(t, err).NotNil()
	gt.Value(t, gateway.Kind(err)).Equal("oversize")
}

func TestDownloadValidatesContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>not a pdf</html>")
	}))
	defer srv.Close()

	g := gateway.NewForTest(
		gateway.WithRateInterval(time.Millisecond),
		gateway.WithSleep(noSleep),
	)

	dest := filepath.Join(t.TempDir(), "1", "1.pdf")
	_, _, err := g.Download(context.Background(), srv.URL, dest, "application/pdf")
	gt.Value(t, err).NotNil()
	gt.Value(t, gateway.Kind(err)).Equal("content_mismatch")
}

func TestDownloadAcceptsPDFByMagicBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Misdeclared content type; magic bytes decide.
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprint(w, "%PDF-1.7 fake body")
	}))
	defer srv.Close()

	g := gateway.NewForTest(
		gateway.WithRateInterval(time.Millisecond),
		gateway.WithSleep(noSleep),
	)

	dest := filepath.Join(t.TempDir(), "2", "7.pdf")
	size, _, err := g.Download(context.Background(), srv.URL, dest, "application/pdf")
	gt.NoError(t, err).Required()

	gt.Value(t, size).Equal(int64(len("%PDF-1.7 fake body")))
	written, err := os.ReadFile(dest)
	gt.NoError(t, err).Required()
	gt.Bool(t, strings.HasPrefix(string(written), "%PDF-")).True()
}
