package service

import (
	"sync"

	"github.com/digkill/ProduktStudio/internal/models"
)

// Dashboard tracks the active view and whether a generation is running.
type Dashboard struct {
	mu         sync.Mutex
	view       models.View
	generating bool
}

func NewDashboard() *Dashboard {
	return &Dashboard{view: models.ViewGenerate}
}

func (d *Dashboard) View() models.View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

func (d *Dashboard) SetView(v models.View) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view = v
}

func (d *Dashboard) IsGenerating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generating
}

// begin claims the generation slot; the returned func releases it.
func (d *Dashboard) begin() (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generating {
		return nil, ErrGenerationInProgress
	}
	d.generating = true
	return func() {
		d.mu.Lock()
		d.generating = false
		d.mu.Unlock()
	}, nil
}
