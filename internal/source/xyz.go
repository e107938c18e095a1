package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/maptile"
	"go.uber.org/zap"

	"fieldmap/internal/tile"
)

const httpUserAgent = "fieldmap/1.0"

var subdomains = []string{"a", "b", "c"}

// XYZ fetches raster tiles from a URL template containing {z}, {x}, {y}
// and optionally {s} (subdomain) or {-y} (TMS row).
type XYZ struct {
	template string
	client   *http.Client
	retries  int
	minZoom  maptile.Zoom
	maxZoom  maptile.Zoom
	logger   *zap.Logger
}

func NewXYZ(template string, timeout time.Duration, logger *zap.Logger) (*XYZ, error) {
	if !strings.Contains(template, "{z}") || !strings.Contains(template, "{x}") ||
		!(strings.Contains(template, "{y}") || strings.Contains(template, "{-y}")) {
		return nil, fmt.Errorf("tile url template must contain {z}, {x} and {y}: %q", template)
	}
	return &XYZ{
		template: template,
		client:   &http.Client{Timeout: timeout},
		retries:  3,
		minZoom:  0,
		maxZoom:  19,
		logger:   logger,
	}, nil
}

// ID embeds the template, so tiles of different servers never share keys.
func (s *XYZ) ID() string {
	return "xyz:" + s.template
}

func (s *XYZ) ZoomRange() (maptile.Zoom, maptile.Zoom) {
	return s.minZoom, s.maxZoom
}

func (s *XYZ) URL(t maptile.Tile) string {
	tmsY := (uint32(1) << uint(t.Z)) - 1 - t.Y
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
		"{-y}", strconv.FormatUint(uint64(tmsY), 10),
		"{s}", subdomains[int(t.X+t.Y)%len(subdomains)],
	)
	return r.Replace(s.template)
}

func (s *XYZ) FetchOrRender(ctx context.Context, key tile.Key) (*tile.Bitmap, error) {
	if err := checkZoom(s, key); err != nil {
		return nil, err
	}

	data, err := s.fetch(ctx, s.URL(key.Tile))
	if err != nil {
		return nil, err
	}
	return decodeTile(key, data)
}

func (s *XYZ) fetch(ctx context.Context, url string) ([]byte, error) {
	sleep := 200 * time.Millisecond
	backoff := func() error {
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
		sleep *= 2
		return nil
	}

	var lastErr error
	for i := 0; i < s.retries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("unable to create request: %w", err)
		}
		req.Header.Set("User-Agent", httpUserAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.logger.Debug("Tile request failed", zap.String("url", url), zap.Int("try", i), zap.Error(err))
			if err := backoff(); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read tile body: %w", err)
			}
			return data, nil
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
			return nil, ErrTileNotFound
		}

		s.logger.Debug("Tile request failed", zap.String("url", url), zap.Int("try", i), zap.Int("status", resp.StatusCode))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("GET %s: %s", url, resp.Status)
			if err := backoff(); err != nil {
				return nil, err
			}
			continue
		}
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	return nil, fmt.Errorf("ran out of HTTP GET retries for %s: %w", url, lastErr)
}

func (s *XYZ) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
