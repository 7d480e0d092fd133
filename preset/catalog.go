package preset

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

//go:embed resolutions.json
var defaultResolutions []byte

// Catalog is the read-only set of presets keyed by label. It is built once
// and never modified, so it is safe for concurrent use without locking.
type Catalog struct {
	entries []Entry
	index   map[string]int
}

// LoadCatalog reads a JSON array of "WxH" strings from path. An empty path
// loads the built-in SDXL list.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultResolutions)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a JSON array of "WxH" strings.
func ParseCatalog(data []byte) (*Catalog, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return NewCatalog(list)
}

// NewCatalog builds a catalog from resolutions, keeping their order. Any
// malformed or repeated entry fails the whole catalog.
func NewCatalog(resolutions []string) (*Catalog, error) {
	c := &Catalog{
		entries: make([]Entry, 0, len(resolutions)),
		index:   make(map[string]int, len(resolutions)),
	}
	for i, res := range resolutions {
		w, h, err := ParseResolution(res)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		label := Label(w, h)
		if _, exists := c.index[label]; exists {
			return nil, fmt.Errorf("entry %d: %w: %q", i, ErrDuplicateEntry, res)
		}
		c.index[label] = len(c.entries)
		c.entries = append(c.entries, Entry{
			Label:  label,
			Preset: Preset{Width: w, Height: h, Ratio: float64(w) / float64(h)},
		})
	}
	return c, nil
}

// ParseResolution parses "<width>x<height>" into positive integers.
func ParseResolution(s string) (width, height int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedEntry, s)
	}
	if width, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%w: bad width in %q", ErrMalformedEntry, s)
	}
	if height, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%w: bad height in %q", ErrMalformedEntry, s)
	}
	return width, height, nil
}

// AspectLabel reduces width:height through their least common multiple,
// e.g. 1920x1080 -> "16:9".
func AspectLabel(width, height int) string {
	l := lcm(width, height)
	return fmt.Sprintf("%d:%d", l/height, l/width)
}

// Label is the display label of a preset, e.g. "16:9 (1344x768)".
func Label(width, height int) string {
	return fmt.Sprintf("%s (%dx%d)", AspectLabel(width, height), width, height)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

// Len returns the number of presets.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entries returns a copy of all presets in catalog order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Labels returns the dropdown choices, sorted.
func (c *Catalog) Labels() []string {
	labels := make([]string, len(c.entries))
	for i, e := range c.entries {
		labels[i] = e.Label
	}
	sort.Strings(labels)
	return labels
}

// Lookup returns the preset for label.
func (c *Catalog) Lookup(label string) (Preset, bool) {
	i, ok := c.index[label]
	if !ok {
		return Preset{}, false
	}
	return c.entries[i].Preset, true
}

// Apply returns the width and height for label, or ErrNoSelection when label
// is empty or not in the catalog.
func (c *Catalog) Apply(label string) (width, height int, err error) {
	p, ok := c.Lookup(label)
	if label == "" || !ok {
		return 0, 0, ErrNoSelection
	}
	return p.Width, p.Height, nil
}

// BestMatch picks the first source with usable dimensions and returns the
// preset whose ratio is closest to it. Ties go to the earlier entry.
func (c *Catalog) BestMatch(sources ...Source) (Match, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		w, h, ok := src.Dimensions()
		if !ok || w <= 0 || h <= 0 {
			continue
		}
		return c.closest(float64(w) / float64(h))
	}
	return Match{}, ErrNoImage
}

func (c *Catalog) closest(ratio float64) (Match, error) {
	best := -1
	minDiff := math.Inf(1)
	for i, e := range c.entries {
		if d := math.Abs(ratio - e.Ratio); d < minDiff {
			minDiff = d
			best = i
		}
	}
	if best < 0 {
		// empty catalog offers nothing to select
		return Match{}, ErrNoSelection
	}
	return Match{Entry: c.entries[best], Difference: minDiff}, nil
}
