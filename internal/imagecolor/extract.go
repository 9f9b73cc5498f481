// Package imagecolor finds the dominant colours of an image file or URL.
package imagecolor

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/dokzlo13/huelight/internal/color"
)

const (
	// sampleSize is the longest side images are scaled down to before counting.
	sampleSize = 64
	// maxColors is how many dominant colours Extract returns.
	maxColors = 5
	// maxDownload caps remote images.
	maxDownload = 20 << 20
)

// ErrNoColors is returned when an image has no opaque pixels.
var ErrNoColors = errors.New("image has no opaque pixels")

// Extractor loads images and reduces them to a short palette.
type Extractor struct {
	httpClient *http.Client
}

// New creates a new Extractor
func New(timeout time.Duration) *Extractor {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{httpClient: &http.Client{Timeout: timeout}}
}

// Extract returns up to five dominant colours of the image at ref, most
// common first. ref is an http(s) URL or a local path.
func (x *Extractor) Extract(ctx context.Context, ref string) ([]color.RGB, error) {
	r, err := x.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	colors := Dominant(img, maxColors)
	if len(colors) == 0 {
		return nil, ErrNoColors
	}

	log.Debug().Str("ref", ref).Str("format", format).Str("top", colors[0].Hex()).Msg("Extracted image colors")
	return colors, nil
}

func (x *Extractor) open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		f, err := os.Open(ref)
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxDownload), resp.Body}, nil
}

type bucket struct {
	r, g, b, n int
}

// Dominant scales img down, groups pixels into 4-bit-per-channel buckets
// and returns the average colour of the n most populated ones.
func Dominant(img image.Image, n int) []color.RGB {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil
	}

	w, h := bounds.Dx(), bounds.Dy()
	if w > sampleSize || h > sampleSize {
		if w >= h {
			w, h = sampleSize, max(1, h*sampleSize/bounds.Dx())
		} else {
			w, h = max(1, w*sampleSize/bounds.Dy()), sampleSize
		}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)

	buckets := make(map[int]*bucket)
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		r, g, b, a := int(dst.Pix[i]), int(dst.Pix[i+1]), int(dst.Pix[i+2]), dst.Pix[i+3]
		if a < 128 {
			continue
		}
		key := (r>>4)<<8 | (g>>4)<<4 | b>>4
		bk, ok := buckets[key]
		if !ok {
			bk = &bucket{}
			buckets[key] = bk
		}
		bk.r += r
		bk.g += g
		bk.b += b
		bk.n++
	}

	entries := lo.Entries(buckets)
	slices.SortFunc(entries, func(a, b lo.Entry[int, *bucket]) int {
		if a.Value.n != b.Value.n {
			return b.Value.n - a.Value.n
		}
		return a.Key - b.Key
	})
	if len(entries) > n {
		entries = entries[:n]
	}

	return lo.Map(entries, func(e lo.Entry[int, *bucket], _ int) color.RGB {
		bk := e.Value
		return color.RGB{
			R: uint8((bk.r + bk.n/2) / bk.n),
			G: uint8((bk.g + bk.n/2) / bk.n),
			B: uint8((bk.b + bk.n/2) / bk.n),
		}
	})
}
