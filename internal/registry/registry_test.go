package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	cap Capability
}

func (f fakeWorker) Capability() Capability { return f.cap }
func (f fakeWorker) Execute(context.Context, Request) (Result, error) {
	return Result{}, nil
}

func TestRegistry_RegisterAndWorkerFor(t *testing.T) {
	r := New()
	w := fakeWorker{cap: Capability{TaskType: TaskCreate, ChatEnabled: false}}
	require.NoError(t, r.Register(w))

	got, ok := r.WorkerFor(TaskCreate)
	require.True(t, ok)
	assert.Equal(t, TaskCreate, got.Capability().TaskType)
}

func TestRegistry_RejectsSecondChatEnabledWorkerForSameTask(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskEdit, ChatEnabled: true}}))
	err := r.Register(fakeWorker{cap: Capability{TaskType: TaskEdit, ChatEnabled: true}})
	assert.Error(t, err)
}

func TestRegistry_AllowsNonChatWorkerToReplaceTaskType(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskCreate, ChatEnabled: false}}))
	err := r.Register(fakeWorker{cap: Capability{TaskType: TaskCreate, ChatEnabled: false}})
	assert.NoError(t, err)
}

func TestRegistry_ChatCapableWorkersFiltersAndSorts(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskEdit, ChatEnabled: true}}))
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskBook, ChatEnabled: true}}))
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskCreate, ChatEnabled: false}}))

	chatWorkers := r.ChatCapableWorkers()
	require.Len(t, chatWorkers, 2)
	assert.Equal(t, TaskBook, chatWorkers[0].Capability().TaskType)
	assert.Equal(t, TaskEdit, chatWorkers[1].Capability().TaskType)
}

func TestRegistry_PlanReturnsExactlyOneWorker(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskEdit, ChatEnabled: true}}))

	plan, err := r.Plan(TaskEdit)
	require.NoError(t, err)
	assert.Len(t, plan.Workers, 1)
}

func TestRegistry_PlanFailsForUnregisteredTask(t *testing.T) {
	r := New()
	_, err := r.Plan(TaskBook)
	assert.Error(t, err)
}

func TestRegistry_PlanAllSkipsUnregisteredTypes(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fakeWorker{cap: Capability{TaskType: TaskPopulateAttractions}}))

	plan := r.PlanAll(TaskPopulateAttractions, TaskPopulateMeals, TaskPopulateTransport)
	assert.Len(t, plan.Workers, 1)
}
