package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripforge/itinerary-engine/internal/model"
)

type manifestFakeWorker struct{ cap Capability }

func (f manifestFakeWorker) Capability() Capability { return f.cap }
func (f manifestFakeWorker) Execute(context.Context, Request) (Result, error) {
	return Result{Mutated: &model.Itinerary{}}, nil
}

const sampleManifest = `
workers:
  - task_type: edit
    priority: 5
    chat_enabled: true
    required_input_fields: ["text"]
  - task_type: estimate-cost
    priority: 0
    chat_enabled: false
`

func TestParseManifest_DecodesWorkers(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Workers, 2)
	assert.Equal(t, TaskEdit, m.Workers[0].TaskType)
	assert.Equal(t, 5, m.Workers[0].Priority)
	assert.True(t, m.Workers[0].ChatEnabled)
}

func TestValidate_AgreesWithMatchingRegistry(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(manifestFakeWorker{cap: Capability{TaskType: TaskEdit, Priority: 5, ChatEnabled: true}}))
	require.NoError(t, reg.Register(manifestFakeWorker{cap: Capability{TaskType: TaskEstimateCost, Priority: 0}}))

	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Empty(t, m.Validate(reg))
}

func TestValidate_FlagsMissingWorkerAndPriorityDrift(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(manifestFakeWorker{cap: Capability{TaskType: TaskEdit, Priority: 1, ChatEnabled: true}}))

	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	errs := m.Validate(reg)
	require.Len(t, errs, 2) // priority drift on edit, missing estimate-cost worker
}
