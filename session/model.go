package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdxl-sizer/preset"
)

const (
	maxNotices = 50
	maxRecent  = 10
)

var ErrUnknownSlot = errors.New("unknown image slot")

// Notice levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notice is a message shown to the user of a panel.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Panel is one resolution panel attached to a host tab.
type Panel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"created_at"`

	binding Binding
	catalog *preset.Catalog
	form    FormFields
	log     *zap.Logger

	mu         sync.Mutex
	lastActive time.Time
	selected   string
	images     map[string]preset.Source
	recent     []string

	notices   *noticeLog
	outMu     sync.Mutex
	outChan   chan Notice
	kickChan  chan struct{}
	connected bool

	done      chan struct{}
	closeOnce sync.Once
}

// SlotState describes one reference image slot.
type SlotState struct {
	Name   string `json:"name"`
	Filled bool   `json:"filled"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// State is a point-in-time view of a panel.
type State struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Mode       Mode        `json:"mode"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive time.Time   `json:"last_active"`
	Connected  bool        `json:"connected"`
	Binding    Binding     `json:"binding"`
	Selected   string      `json:"selected"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	Slots      []SlotState `json:"slots"`
	Recent     []string    `json:"recent"`
}

type noticeLog struct {
	mu   sync.Mutex
	data []Notice
	max  int
}

func newNoticeLog() *noticeLog {
	return &noticeLog{max: maxNotices}
}

func (l *noticeLog) Write(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = append(l.data, n)
	if len(l.data) > l.max {
		excess := len(l.data) - l.max
		l.data = l.data[excess:]
	}
}

func (l *noticeLog) Snapshot() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.data) == 0 {
		return nil
	}
	cp := make([]Notice, len(l.data))
	copy(cp, l.data)
	return cp
}

// Message returns the text shown to the user for a failed panel action.
func Message(err error) string {
	switch {
	case errors.Is(err, preset.ErrNoImage):
		return "No image found/provided!"
	case errors.Is(err, preset.ErrNoSelection):
		return "No resolution selected!"
	}
	return err.Error()
}

// Select changes the dropdown value. An empty label clears the selection;
// a label that is not in the catalog is rejected with preset.ErrNoSelection.
func (p *Panel) Select(label string) error {
	if label != "" {
		if _, ok := p.catalog.Lookup(label); !ok {
			return fmt.Errorf("%w: %q", preset.ErrNoSelection, label)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected = label
	p.touch()
	return nil
}

// Selected returns the current dropdown value.
func (p *Panel) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// HasSlot reports whether slot is one of the panel's reference image slots.
func (p *Panel) HasSlot(slot string) bool {
	return p.binding.hasSlot(slot)
}

// SetImage places a reference image into slot.
func (p *Panel) SetImage(slot string, src preset.Source) error {
	if !p.binding.hasSlot(slot) {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images[slot] = src
	p.touch()
	return nil
}

// ClearImage empties slot.
func (p *Panel) ClearImage(slot string) error {
	if !p.binding.hasSlot(slot) {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.images, slot)
	p.touch()
	return nil
}

// ReadFromImages picks the preset closest to the first usable reference
// image and makes it the dropdown value.
func (p *Panel) ReadFromImages() (preset.Match, error) {
	p.mu.Lock()
	sources := make([]preset.Source, 0, len(p.binding.Slots))
	for _, slot := range p.binding.Slots {
		sources = append(sources, p.images[slot])
	}
	m, err := p.catalog.BestMatch(sources...)
	if err == nil {
		p.selected = m.Label
	}
	p.touch()
	p.mu.Unlock()

	if err != nil {
		p.Notify(LevelError, Message(err))
		return preset.Match{}, err
	}
	p.Notify(LevelInfo, fmt.Sprintf("Best resolution is %s with abs difference %v", m.Label, m.Difference))
	return m, nil
}

// Apply writes the selected preset into the bound form fields.
func (p *Panel) Apply() (width, height int, err error) {
	p.mu.Lock()
	label := p.selected
	width, height, err = p.catalog.Apply(label)
	if err == nil {
		p.form.SetSize(width, height)
		p.pushRecent(label)
	}
	p.touch()
	p.mu.Unlock()

	if err != nil {
		p.Notify(LevelError, Message(err))
		return 0, 0, err
	}
	p.Notify(LevelInfo, fmt.Sprintf("Set resolution to %dx%d", width, height))
	return width, height, nil
}

// Recent returns the most recently applied labels, newest first.
func (p *Panel) Recent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.recent))
	copy(out, p.recent)
	return out
}

// pushRecent moves label to the front of the recent list. Caller holds p.mu.
func (p *Panel) pushRecent(label string) {
	list := []string{label}
	for _, l := range p.recent {
		if l == label {
			continue
		}
		list = append(list, l)
		if len(list) == maxRecent {
			break
		}
	}
	p.recent = list
}

// touch records activity. Caller holds p.mu.
func (p *Panel) touch() {
	p.lastActive = time.Now()
}

// Snapshot returns the current panel state.
func (p *Panel) Snapshot() State {
	p.mu.Lock()
	st := State{
		ID:         p.ID,
		Name:       p.Name,
		Mode:       p.Mode,
		CreatedAt:  p.CreatedAt,
		LastActive: p.lastActive,
		Binding:    p.binding,
		Selected:   p.selected,
		Slots:      make([]SlotState, 0, len(p.binding.Slots)),
		Recent:     make([]string, len(p.recent)),
	}
	copy(st.Recent, p.recent)
	for _, slot := range p.binding.Slots {
		ss := SlotState{Name: slot}
		if src := p.images[slot]; src != nil {
			if w, h, ok := src.Dimensions(); ok {
				ss.Filled, ss.Width, ss.Height = true, w, h
			}
		}
		st.Slots = append(st.Slots, ss)
	}
	p.mu.Unlock()

	st.Width, st.Height = p.form.Size()
	p.outMu.Lock()
	st.Connected = p.connected
	p.outMu.Unlock()
	return st
}

// Notify records a notice and forwards it to the connected client, if any.
func (p *Panel) Notify(level, msg string) {
	n := Notice{Level: level, Message: msg, Time: time.Now()}

	if level == LevelError {
		p.log.Warn("Panel action failed", zap.String("panel", p.Name), zap.String("message", msg))
	} else {
		p.log.Info("Panel notice", zap.String("panel", p.Name), zap.String("message", msg))
	}

	// recording and forwarding happen under outMu so SetClient sees every
	// notice exactly once, either in its backlog or on the channel
	p.outMu.Lock()
	defer p.outMu.Unlock()
	p.notices.Write(n)
	if p.outChan != nil {
		select {
		case p.outChan <- n:
		default:
		}
	}
}

// SetClient registers a channel to receive live notices and returns the
// notice backlog recorded so far. If a previous client is connected it is
// kicked: its kick channel is closed so the websocket handler can close that
// connection. The returned kick channel will be closed if this client is
// itself later displaced.
func (p *Panel) SetClient(ch chan Notice) (<-chan struct{}, []Notice) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	if p.kickChan != nil {
		close(p.kickChan)
	}
	kick := make(chan struct{})
	p.kickChan = kick
	p.outChan = ch
	p.connected = true
	return kick, p.notices.Snapshot()
}

// ClearClient is called when a connection ends. It only updates panel state
// if ch is still the current owner. It always closes ch so the pump
// goroutine exits.
func (p *Panel) ClearClient(ch chan Notice) {
	p.outMu.Lock()
	if p.outChan == ch {
		p.outChan = nil
		p.connected = false
		p.kickChan = nil
	}
	p.outMu.Unlock()
	close(ch)
}

// Connected reports whether a client is attached.
func (p *Panel) Connected() bool {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return p.connected
}

// Notices returns a copy of the notice backlog.
func (p *Panel) Notices() []Notice {
	return p.notices.Snapshot()
}

// Done returns a channel that is closed when the panel is killed.
func (p *Panel) Done() <-chan struct{} {
	return p.done
}

func (p *Panel) close() {
	p.closeOnce.Do(func() { close(p.done) })
}
