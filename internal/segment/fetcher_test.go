package segment

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

func testClient(attempts int) *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = attempts
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	return httpclient.New(cfg)
}

func segmentServer(t *testing.T, payloads [][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var i int
		if _, err := fmt.Sscanf(r.URL.Path, "/seg/%d", &i); err != nil || i >= len(payloads) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(payloads[i])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func segmentURLs(srv *httptest.Server, n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/seg/%d", srv.URL, i)
	}
	return urls
}

func TestFetchConcatenatesInOrder(t *testing.T) {
	payloads := [][]byte{[]byte("aaaa"), []byte("bb"), []byte("cccccc"), []byte("d")}
	srv := segmentServer(t, payloads)

	out := filepath.Join(t.TempDir(), "out", "track.ts")
	f := NewFetcher(testClient(3), 3, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   segmentURLs(srv, len(payloads)),
		OutputPath: out,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaabbccccccd"), got)
}

func TestFetchDecryptsAES128(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain := [][]byte{[]byte("first segment data"), []byte("second segment!")}

	encrypted := make([][]byte, len(plain))
	for i, p := range plain {
		encrypted[i] = encryptForTest(t, p, key, ivForIndex(i))
	}
	srv := segmentServer(t, encrypted)

	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(3), 2, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   segmentURLs(srv, len(plain)),
		Encryption: &hls.Encryption{Method: hls.EncryptionAES128},
		Key:        key,
		OutputPath: out,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, plain[0]...), plain[1]...), got)
}

func TestFetchDecryptsWithExplicitIV(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := bytes.Repeat([]byte{0x42}, 16)
	plain := []byte("only segment")
	srv := segmentServer(t, [][]byte{encryptForTest(t, plain, key, iv)})

	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(3), 1, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   segmentURLs(srv, 1),
		Encryption: &hls.Encryption{Method: hls.EncryptionAES128, IV: iv},
		Key:        key,
		OutputPath: out,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(5), 1, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   []string{srv.URL + "/seg"},
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestFetchFailsPastRetryCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(2), 1, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   []string{srv.URL + "/seg"},
		OutputPath: out,
	})
	require.Error(t, err)
	assert.NoFileExists(t, out)
}

func TestFetchCleansScratchOnFailure(t *testing.T) {
	payloads := [][]byte{[]byte("good")}
	srv := segmentServer(t, payloads)

	scratch := filepath.Join(t.TempDir(), "scratch")
	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(1), 2, nil)

	// Second URL 404s; segment files and the directory must still go.
	err := f.Fetch(context.Background(), Request{
		Segments:   []string{srv.URL + "/seg/0", srv.URL + "/seg/99"},
		ScratchDir: scratch,
		OutputPath: out,
	})
	require.Error(t, err)
	assert.NoDirExists(t, scratch)
}

func TestFetchRemovesSuppliedScratchOnSuccess(t *testing.T) {
	payloads := [][]byte{[]byte("one"), []byte("two")}
	srv := segmentServer(t, payloads)

	scratch := filepath.Join(t.TempDir(), "scratch")
	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(1), 2, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   segmentURLs(srv, len(payloads)),
		ScratchDir: scratch,
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.NoDirExists(t, scratch)
}

func TestFetchProgressMonotonic(t *testing.T) {
	payloads := make([][]byte, 12)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte(i)}, 100+i)
	}
	srv := segmentServer(t, payloads)

	var mu sync.Mutex
	var ticks []Tick
	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(3), 4, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   segmentURLs(srv, len(payloads)),
		OutputPath: out,
		OnProgress: func(tick Tick) {
			mu.Lock()
			ticks = append(ticks, tick)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, ticks, len(payloads))

	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].DownloadedSegments, ticks[i-1].DownloadedSegments)
		assert.GreaterOrEqual(t, ticks[i].DownloadedBytes, ticks[i-1].DownloadedBytes)
		assert.GreaterOrEqual(t, ticks[i].Percent, ticks[i-1].Percent)
		assert.LessOrEqual(t, ticks[i].Percent, 100.0)
	}
	last := ticks[len(ticks)-1]
	assert.Equal(t, len(payloads), last.DownloadedSegments)
	assert.InDelta(t, 100.0, last.Percent, 0.001)
}

// Many small segments on a wide worker pool, with a slow consumer to
// stretch the delivery window. A tick loaded after another worker's
// increment must not be delivered before that worker's own tick.
func TestFetchTicksOrderedUnderContention(t *testing.T) {
	payloads := make([][]byte, 64)
	for i := range payloads {
		payloads[i] = []byte{byte(i)}
	}
	srv := segmentServer(t, payloads)

	var mu sync.Mutex
	var ticks []Tick
	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(1), 8, nil)

	err := f.Fetch(context.Background(), Request{
		Segments:   segmentURLs(srv, len(payloads)),
		OutputPath: out,
		OnProgress: func(tick Tick) {
			time.Sleep(time.Millisecond)
			mu.Lock()
			ticks = append(ticks, tick)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Len(t, ticks, len(payloads))

	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].DownloadedSegments, ticks[i-1].DownloadedSegments)
		assert.GreaterOrEqual(t, ticks[i].DownloadedBytes, ticks[i-1].DownloadedBytes)
	}
	assert.Equal(t, len(payloads), ticks[len(ticks)-1].DownloadedSegments)
}

func TestFetchCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	out := filepath.Join(t.TempDir(), "track.ts")
	f := NewFetcher(testClient(1), 2, nil)

	done := make(chan error, 1)
	go func() {
		done <- f.Fetch(ctx, Request{
			Segments:   []string{srv.URL + "/a", srv.URL + "/b"},
			OutputPath: out,
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancellation")
	}
	assert.NoFileExists(t, out)
}

func TestDecryptRejectsBadPadding(t *testing.T) {
	key := []byte("0123456789abcdef")
	block := bytes.Repeat([]byte{0x00}, 16)
	_, err := decryptAES128CBC(block, key, ivForIndex(0))
	assert.Error(t, err)
}

func TestIVForIndex(t *testing.T) {
	iv := ivForIndex(7)
	require.Len(t, iv, 16)
	assert.Equal(t, byte(7), iv[15])
	assert.Equal(t, bytes.Repeat([]byte{0}, 15), iv[:15])

	iv = ivForIndex(0x0102)
	assert.Equal(t, byte(0x01), iv[14])
	assert.Equal(t, byte(0x02), iv[15])
}

func encryptForTest(t *testing.T, plain, key, iv []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}
