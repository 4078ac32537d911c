package overlay

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

// Manager holds an ordered set of widgets; later widgets draw on top
type Manager struct {
	widgets []Widget
	mu      sync.RWMutex
	enabled bool
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{enabled: true}
}

// AddWidget appends a widget to the top of the stack
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.widgets {
		if w.ID() == widget.ID() {
			return fmt.Errorf("widget with ID %s already exists", widget.ID())
		}
	}

	m.widgets = append(m.widgets, widget)
	logger.WithComponent("overlay").Debug().
		Str("id", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget by ID
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.widgets {
		if w.ID() == id {
			m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("widget with ID %s not found", id)
}

// Len returns the number of widgets
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.widgets)
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// Render draws all enabled widgets onto img in stack order
func (m *Manager) Render(img *image.RGBA, info FrameInfo) {
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	widgets := make([]Widget, len(m.widgets))
	copy(widgets, m.widgets)
	m.mu.RUnlock()

	for _, widget := range widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img, info); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("id", widget.ID()).
				Msg("Failed to render widget")
		}
	}
}

// CreateWidget creates a new widget instance from configuration
func CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	switch widgetType {
	case "text":
		w, err := NewTextWidget(id, config)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
		}
		return w, nil
	}
	return nil, fmt.Errorf("unknown widget type: %s", widgetType)
}

// LoadFromConfig creates widgets from config maps, skipping invalid entries
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) {
	log := logger.WithComponent("overlay")
	for _, config := range configs {
		widgetType, _ := config["type"].(string)
		id, _ := config["id"].(string)
		if widgetType == "" || id == "" {
			log.Warn().Interface("config", config).Msg("Skipping widget with missing type or ID")
			continue
		}

		widget, err := CreateWidget(widgetType, id, config)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to create widget")
			continue
		}
		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to add widget")
		}
	}
}
