package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdxl-sizer/preset"
)

var ErrNameTaken = errors.New("panel name already in use")
var ErrNotFound = errors.New("panel not found")

type Manager struct {
	mu       sync.RWMutex
	panels   map[string]*Panel
	catalog  *preset.Catalog
	log      *zap.Logger
	fieldsFn func(b Binding) FormFields
}

func NewManager(catalog *preset.Catalog, log *zap.Logger) *Manager {
	return NewManagerWithFields(catalog, log, nil)
}

// NewManagerWithFields creates a Manager whose panels write into form fields
// produced by fn. A nil fn gives every panel its own in-memory Form.
func NewManagerWithFields(catalog *preset.Catalog, log *zap.Logger, fn func(b Binding) FormFields) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if fn == nil {
		fn = defaultFields
	}
	return &Manager{
		panels:   make(map[string]*Panel),
		catalog:  catalog,
		log:      log,
		fieldsFn: fn,
	}
}

// Catalog returns the catalog panels select from.
func (m *Manager) Catalog() *preset.Catalog {
	return m.catalog
}

func (m *Manager) Create(name string, mode Mode) (*Panel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.panels {
		if p.Name == name {
			return nil, ErrNameTaken
		}
	}

	binding := BindingFor(mode)
	now := time.Now()
	p := &Panel{
		ID:         uuid.New().String(),
		Name:       name,
		Mode:       mode,
		CreatedAt:  now,
		binding:    binding,
		catalog:    m.catalog,
		form:       m.fieldsFn(binding),
		lastActive: now,
		images:     make(map[string]preset.Source, len(binding.Slots)),
		notices:    newNoticeLog(),
		done:       make(chan struct{}),
	}
	p.log = m.log.With(zap.String("id", p.ID), zap.String("mode", string(mode)))

	m.panels[p.ID] = p
	m.log.Debug("Panel created", zap.String("id", p.ID), zap.String("name", name), zap.String("mode", string(mode)))
	return p, nil
}

// List returns all panels ordered by creation time.
func (m *Manager) List() []*Panel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Panel, 0, len(m.panels))
	for _, p := range m.panels {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (m *Manager) Get(id string) (*Panel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.panels[id]
	return p, ok
}

func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.panels[id]
	if !ok {
		return ErrNotFound
	}
	p.close()
	delete(m.panels, id)
	m.log.Debug("Panel closed", zap.String("id", id))
	return nil
}

// Close kills every panel.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.panels {
		p.close()
		delete(m.panels, id)
	}
}
