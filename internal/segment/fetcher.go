// Package segment downloads HLS media segments in parallel and
// concatenates them, in playlist order, into a single file.
package segment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/vodarr/internal/hls"
	"github.com/jmylchreest/vodarr/pkg/httpclient"
)

// Tick is one progress sample emitted while segments download.
type Tick struct {
	DownloadedSegments int
	TotalSegments      int
	DownloadedBytes    int64
	// TotalBytesEstimate extrapolates the final size from the average
	// segment size seen so far.
	TotalBytesEstimate int64
	// Percent is downloaded/total segments, clamped to 100.
	Percent        float64
	BytesPerSecond float64
	ETASeconds     int64
}

// Request describes one fetch-and-concatenate operation.
type Request struct {
	// Segments are absolute URLs in playlist order.
	Segments []string
	Referer  string

	// Encryption and Key enable per-segment AES-128-CBC decryption.
	// Key must hold the fetched key bytes when Encryption is set.
	Encryption *hls.Encryption
	Key        []byte

	// OutputPath receives the concatenated stream. Its parent
	// directory is created if absent.
	OutputPath string

	// ScratchDir hosts the per-segment files. When empty a private
	// temp directory is used. Segment files and the scratch directory
	// are removed on every exit path.
	ScratchDir string

	// OnProgress, when set, receives ticks as segments complete.
	// Ticks are monotonic in downloaded count, not segment index.
	OnProgress func(Tick)
}

// Fetcher downloads segment lists with bounded concurrency.
type Fetcher struct {
	client      *httpclient.Client
	concurrency int
	logger      *slog.Logger
}

// NewFetcher creates a fetcher. Retry behavior for individual segments
// follows the client's retry configuration.
func NewFetcher(client *httpclient.Client, concurrency int, logger *slog.Logger) *Fetcher {
	if concurrency <= 0 {
		concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, concurrency: concurrency, logger: logger}
}

// Fetch downloads every segment in req, decrypting when keyed, and
// concatenates them in index order into req.OutputPath.
func (f *Fetcher) Fetch(ctx context.Context, req Request) error {
	if len(req.Segments) == 0 {
		return fmt.Errorf("no segments to fetch")
	}
	if req.Encryption != nil && req.Encryption.Method == hls.EncryptionAES128 && len(req.Key) != 16 {
		return fmt.Errorf("AES-128 declared but key is %d bytes", len(req.Key))
	}
	if req.Encryption != nil && req.Encryption.Method != hls.EncryptionAES128 && req.Encryption.Method != hls.EncryptionNone {
		return fmt.Errorf("unsupported encryption method %q", req.Encryption.Method)
	}

	scratch := req.ScratchDir
	if scratch == "" {
		dir, err := os.MkdirTemp("", "vodarr-segments-*")
		if err != nil {
			return fmt.Errorf("creating scratch dir: %w", err)
		}
		scratch = dir
		defer os.RemoveAll(dir)
	} else {
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return fmt.Errorf("creating scratch dir: %w", err)
		}
		// Remove the directory once the segment files are gone. The
		// remove fails harmlessly when the caller keeps other files in it.
		defer func() { _ = os.Remove(scratch) }()
	}
	defer f.removeSegmentFiles(scratch, len(req.Segments))

	start := time.Now()
	var downloadedBytes atomic.Int64
	var downloadedCount atomic.Int64
	var tickMu sync.Mutex

	emit := func() {
		if req.OnProgress == nil {
			return
		}

		// Load and deliver under one lock so a later tick can never
		// carry a smaller count than an earlier one.
		tickMu.Lock()
		defer tickMu.Unlock()

		count := int(downloadedCount.Load())
		bytes := downloadedBytes.Load()
		total := len(req.Segments)

		percent := float64(count) / float64(total) * 100
		if percent > 100 {
			percent = 100
		}

		var estimate int64
		if count > 0 {
			estimate = bytes / int64(count) * int64(total)
		}

		elapsed := time.Since(start).Seconds()
		var speed float64
		if elapsed > 0 {
			speed = float64(bytes) / elapsed
		}

		var eta int64
		if speed > 0 && estimate > bytes {
			eta = int64(float64(estimate-bytes) / speed)
		}

		req.OnProgress(Tick{
			DownloadedSegments: count,
			TotalSegments:      total,
			DownloadedBytes:    bytes,
			TotalBytesEstimate: estimate,
			Percent:            percent,
			BytesPerSecond:     speed,
			ETASeconds:         eta,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, segURL := range req.Segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := f.fetchOne(gctx, segURL, req.Referer)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}

			if req.Encryption != nil && req.Encryption.Method == hls.EncryptionAES128 {
				iv := req.Encryption.IV
				if iv == nil {
					iv = ivForIndex(i)
				}
				data, err = decryptAES128CBC(data, req.Key, iv)
				if err != nil {
					return fmt.Errorf("segment %d: decrypt: %w", i, err)
				}
			}

			path := segmentPath(scratch, i)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("segment %d: write: %w", i, err)
			}

			downloadedBytes.Add(int64(len(data)))
			downloadedCount.Add(1)
			emit()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return f.concatenate(scratch, len(req.Segments), req.OutputPath)
}

func (f *Fetcher) fetchOne(ctx context.Context, segURL, referer string) ([]byte, error) {
	resp, err := f.client.Get(ctx, segURL,
		httpclient.WithReferer(referer),
		httpclient.WithHeader("Accept", "*/*"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return f.client.ReadBody(resp)
}

// concatenate joins segment files in index order into outputPath.
func (f *Fetcher) concatenate(scratch string, count int, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	defer out.Close()

	for i := 0; i < count; i++ {
		seg, err := os.Open(segmentPath(scratch, i))
		if err != nil {
			return fmt.Errorf("opening segment %d: %w", i, err)
		}
		_, err = io.Copy(out, seg)
		seg.Close()
		if err != nil {
			return fmt.Errorf("appending segment %d: %w", i, err)
		}
	}
	return out.Close()
}

func (f *Fetcher) removeSegmentFiles(scratch string, count int) {
	for i := 0; i < count; i++ {
		if err := os.Remove(segmentPath(scratch, i)); err != nil && !os.IsNotExist(err) {
			f.logger.Warn("removing segment file",
				slog.String("path", segmentPath(scratch, i)),
				slog.String("error", err.Error()))
		}
	}
}

func segmentPath(scratch string, index int) string {
	return filepath.Join(scratch, fmt.Sprintf("segment_%05d.ts", index))
}
