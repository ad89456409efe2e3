package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchbuddy/internal/models"
)

func TestDefaultCatalogOrderAndUniqueness(t *testing.T) {
	c := Default()
	list := c.ListModels()
	require.Len(t, list, 10)
	assert.Equal(t, "OpenAI GPT 4.1 Nano", list[0].Name)
	assert.Equal(t, "Mistral Saba 24B", list[9].Name)

	ids := map[string]bool{}
	for _, m := range list {
		assert.False(t, ids[m.ID], "duplicate id %s", m.ID)
		ids[m.ID] = true
	}
}

func TestCapabilitiesOf(t *testing.T) {
	c := Default()

	caps, err := c.CapabilitiesOf("OpenAI GPT 4.1 Nano")
	require.NoError(t, err)
	assert.True(t, caps.Has(models.CapCodeGeneration))
	assert.False(t, caps.Has(models.CapImageAnalysis))

	caps, err = c.CapabilitiesOf("Google Gemini 2.5 Pro Exp")
	require.NoError(t, err)
	assert.True(t, caps.Has(models.CapImageGeneration))
	assert.True(t, caps.Has(models.CapImageAnalysis))

	_, err = c.CapabilitiesOf("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCapabilitiesOfReturnsCopy(t *testing.T) {
	c := Default()
	caps, err := c.CapabilitiesOf("OpenAI GPT 4.1 Nano")
	require.NoError(t, err)
	caps[models.CapImageAnalysis] = true

	again, err := c.CapabilitiesOf("OpenAI GPT 4.1 Nano")
	require.NoError(t, err)
	assert.False(t, again.Has(models.CapImageAnalysis))
}

func TestRouteFor(t *testing.T) {
	c := Default()

	id, err := c.RouteFor(models.TaskCodeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-mini", id)

	id, err = c.RouteFor(models.TaskImageAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro-exp-03-25", id)

	empty, err := New(DefaultModels, nil)
	require.NoError(t, err)
	_, err = empty.RouteFor(models.TaskImageGeneration)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestNewRejectsBadInput(t *testing.T) {
	dup := []models.AIModel{
		{Name: "a", ID: "x"},
		{Name: "b", ID: "x"},
	}
	_, err := New(dup, nil)
	assert.Error(t, err)

	_, err = New(DefaultModels, map[models.Task]string{models.TaskCodeAnalysis: "missing"})
	assert.Error(t, err)
}

func TestModelByID(t *testing.T) {
	c := Default()
	m, idx, ok := c.ModelByID("qwen-qwq-32b")
	require.True(t, ok)
	assert.Equal(t, "Qwen QwQ 32B", m.Name)
	assert.Equal(t, 8, idx)

	_, _, ok = c.ModelByID("unknown")
	assert.False(t, ok)
}
