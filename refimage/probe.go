// Package refimage reads the pixel dimensions of uploaded reference images.
package refimage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/h2non/filetype"
	"github.com/patrickmn/go-cache"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupported   = errors.New("unsupported image type")
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

// Options control how images are probed.
type Options struct {
	// AutoOrient reports JPEG dimensions as displayed, after EXIF rotation.
	AutoOrient bool
	// MaxPixels rejects images whose header claims more pixels. Zero means
	// no limit.
	MaxPixels int64
}

// Image is a probed reference image.
type Image struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	MIME   string `json:"mime"`
}

// Dimensions implements preset.Source. A nil image carries no dimensions.
func (img *Image) Dimensions() (int, int, bool) {
	if img == nil {
		return 0, 0, false
	}
	return img.Width, img.Height, img.Width > 0 && img.Height > 0
}

// Probe detects the image type and reads its dimensions from the image
// header. Pixel data is never decoded.
func Probe(data []byte, opts Options) (*Image, error) {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return nil, ErrUnsupported
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind.MIME.Value)
		}
		return nil, fmt.Errorf("unable to read %s image header: %w", kind.Extension, err)
	}
	if opts.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > opts.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img := &Image{Width: cfg.Width, Height: cfg.Height, Format: format, MIME: kind.MIME.Value}
	if opts.AutoOrient && format == "jpeg" && swapsAxes(jpegOrientation(data)) {
		img.Width, img.Height = img.Height, img.Width
	}
	return img, nil
}

// Prober probes images and remembers results by content hash.
type Prober struct {
	opts  Options
	cache *cache.Cache
}

// NewProber returns a prober whose results expire after ttl. A zero ttl
// disables caching.
func NewProber(opts Options, ttl time.Duration) *Prober {
	p := &Prober{opts: opts}
	if ttl > 0 {
		p.cache = cache.New(ttl, 2*ttl)
	}
	return p
}

// Probe returns the dimensions of data, consulting the cache first.
func (p *Prober) Probe(data []byte) (*Image, error) {
	if p.cache == nil {
		return Probe(data, p.opts)
	}
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if v, ok := p.cache.Get(key); ok {
		img := *v.(*Image)
		return &img, nil
	}
	img, err := Probe(data, p.opts)
	if err != nil {
		return nil, err
	}
	stored := *img
	p.cache.SetDefault(key, &stored)
	return img, nil
}

// Cached reports how many probe results are currently remembered.
func (p *Prober) Cached() int {
	if p.cache == nil {
		return 0
	}
	return p.cache.ItemCount()
}
