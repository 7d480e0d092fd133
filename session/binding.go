package session

import (
	"errors"
	"fmt"
	"sync"
)

// Mode names the host tab a panel is attached to.
type Mode string

const (
	ModeTxt2Img Mode = "txt2img"
	ModeImg2Img Mode = "img2img"
)

var ErrUnknownMode = errors.New("unknown panel mode")

// ParseMode converts s to a Mode. An empty string selects txt2img.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeTxt2Img:
		return ModeTxt2Img, nil
	case ModeImg2Img:
		return ModeImg2Img, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Binding ties a panel to the host elements it reads from and writes to.
// Slots are listed in the order best-match scans them.
type Binding struct {
	WidthField  string   `json:"widthField"`
	HeightField string   `json:"heightField"`
	Slots       []string `json:"slots"`
}

// BindingFor resolves the host element ids for mode.
func BindingFor(mode Mode) Binding {
	if mode == ModeImg2Img {
		return Binding{
			WidthField:  "img2img_width",
			HeightField: "img2img_height",
			Slots:       []string{"img2img_image", "img2img_sketch", "img2maskimg", "inpaint_sketch", "img_inpaint_base"},
		}
	}
	return Binding{
		WidthField:  "txt2img_width",
		HeightField: "txt2img_height",
		Slots:       []string{"reference"},
	}
}

func (b Binding) hasSlot(name string) bool {
	for _, s := range b.Slots {
		if s == name {
			return true
		}
	}
	return false
}

// FormFields is the pair of numeric generation fields a panel applies
// presets to.
type FormFields interface {
	SetSize(width, height int)
	Size() (width, height int)
}

// Form is an in-memory FormFields.
type Form struct {
	mu            sync.Mutex
	width, height int
}

// Default generation size of a freshly opened host tab.
const (
	DefaultWidth  = 512
	DefaultHeight = 512
)

func NewForm(width, height int) *Form {
	return &Form{width: width, height: height}
}

func (f *Form) SetSize(width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height = width, height
}

func (f *Form) Size() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width, f.height
}

func defaultFields(Binding) FormFields {
	return NewForm(DefaultWidth, DefaultHeight)
}
