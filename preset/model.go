package preset

import "errors"

// Preset is a single SDXL width/height pair offered to the user.
type Preset struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Ratio  float64 `json:"ratio"`
}

// Entry is a preset together with its display label.
type Entry struct {
	Label string `json:"label"`
	Preset
}

// Match is the result of a best-match lookup.
type Match struct {
	Entry
	Difference float64 `json:"difference"`
}

// Source is anything that may carry image dimensions. Sources reporting
// ok == false are skipped by BestMatch.
type Source interface {
	Dimensions() (width, height int, ok bool)
}

// Dimensions is a plain width/height pair usable as a Source.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Dimensions() (int, int, bool) {
	return d.Width, d.Height, d.Width > 0 && d.Height > 0
}

var (
	ErrMalformedEntry = errors.New("malformed resolution entry")
	ErrDuplicateEntry = errors.New("duplicate resolution entry")
	ErrNoImage        = errors.New("no image found or provided")
	ErrNoSelection    = errors.New("no resolution selected")
)
