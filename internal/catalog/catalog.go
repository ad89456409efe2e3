package catalog

import (
	"errors"
	"fmt"

	"researchbuddy/internal/models"
)

var (
	ErrNotFound      = errors.New("model not found")
	ErrNotConfigured = errors.New("route not configured")
)

// Catalog is a read-only registry of models and specialized routes.
type Catalog struct {
	models []models.AIModel
	byName map[string]int
	byID   map[string]int
	routes map[models.Task]string
}

func New(list []models.AIModel, routes map[models.Task]string) (*Catalog, error) {
	c := &Catalog{
		models: make([]models.AIModel, len(list)),
		byName: make(map[string]int, len(list)),
		byID:   make(map[string]int, len(list)),
		routes: make(map[models.Task]string, len(routes)),
	}
	for i, m := range list {
		if _, dup := c.byName[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model name %q", m.Name)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", m.ID)
		}
		caps := make(models.Capabilities, len(m.Capabilities))
		for k, v := range m.Capabilities {
			caps[k] = v
		}
		m.Capabilities = caps
		c.models[i] = m
		c.byName[m.Name] = i
		c.byID[m.ID] = i
	}
	for task, id := range routes {
		if _, ok := c.byID[id]; !ok {
			return nil, fmt.Errorf("route %s points at unknown model %q", task, id)
		}
		c.routes[task] = id
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultModels, DefaultRoutes)
	if err != nil {
		panic(err)
	}
	return c
}

// ListModels returns models in registration order.
func (c *Catalog) ListModels() []models.AIModel {
	out := make([]models.AIModel, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) Model(name string) (models.AIModel, error) {
	i, ok := c.byName[name]
	if !ok {
		return models.AIModel{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c.models[i], nil
}

func (c *Catalog) ModelByID(id string) (models.AIModel, int, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.AIModel{}, 0, false
	}
	return c.models[i], i, true
}

func (c *Catalog) CapabilitiesOf(name string) (models.Capabilities, error) {
	m, err := c.Model(name)
	if err != nil {
		return nil, err
	}
	caps := make(models.Capabilities, len(m.Capabilities))
	for k, v := range m.Capabilities {
		caps[k] = v
	}
	return caps, nil
}

func (c *Catalog) RouteFor(task models.Task) (string, error) {
	id, ok := c.routes[task]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, task)
	}
	return id, nil
}

// Routes returns a copy of the specialized route table.
func (c *Catalog) Routes() map[models.Task]string {
	out := make(map[models.Task]string, len(c.routes))
	for k, v := range c.routes {
		out[k] = v
	}
	return out
}
