package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/service/dao"
	processpg "github.com/actflow/actflow/service/dao/process/postgres"
)

// setupTestDB spins up a disposable postgres:16-alpine container (the same
// image and options the pack's own lib/pq consumer uses for this), opens a
// Service against it, and runs EnsureSchema so every test starts from a
// clean, migrated database.
func setupTestDB(t *testing.T) *processpg.Service {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("actflow_test"),
		postgres.WithUsername("actflow"),
		postgres.WithPassword("actflow"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	svc, err := processpg.Open(databaseURL)
	require.NoError(t, err)
	require.NoError(t, svc.EnsureSchema(ctx))

	t.Cleanup(func() {
		_ = svc.Close()
		_ = container.Terminate(ctx)
		cancel()
	})

	return svc
}

func newTestProcess(id string) *model.Process {
	p := model.NewProcess(id, "linear", map[string]string{"ENV": "test"})
	p.Start()
	p.SetOutput("greet", map[string]interface{}{"message": "hi"})
	return p
}

func TestService_SaveLoad(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	p := newTestProcess("proc-1")
	require.NoError(t, svc.Save(ctx, p))

	loaded, err := svc.Load(ctx, "proc-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.WorkflowID, loaded.WorkflowID)
	assert.Equal(t, model.ProcessStateRunning, loaded.State)
	assert.Equal(t, "hi", loaded.Outputs["greet"].(map[string]interface{})["message"])
}

func TestService_Save_UpsertsOnSecondCall(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	p := newTestProcess("proc-2")
	require.NoError(t, svc.Save(ctx, p))

	p.Complete()
	require.NoError(t, svc.Save(ctx, p))

	loaded, err := svc.Load(ctx, "proc-2")
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateCompleted, loaded.State)
}

func TestService_Load_NotFound(t *testing.T) {
	svc := setupTestDB(t)
	_, err := svc.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)
}

func TestService_Save_RejectsNilOrInvalid(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Save(ctx, nil), dao.ErrNilEntity)

	p := newTestProcess("")
	assert.ErrorIs(t, svc.Save(ctx, p), dao.ErrInvalidID)
}

func TestService_DeleteCascadesTasks(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	p := newTestProcess("proc-3")
	require.NoError(t, svc.Save(ctx, p))

	require.NoError(t, svc.Delete(ctx, "proc-3"))
	_, err := svc.Load(ctx, "proc-3")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, "proc-3"), dao.ErrNotFound)
}

func TestService_ListFiltersByState(t *testing.T) {
	svc := setupTestDB(t)
	ctx := context.Background()

	running := newTestProcess("proc-4")
	require.NoError(t, svc.Save(ctx, running))

	done := newTestProcess("proc-5")
	done.Complete()
	require.NoError(t, svc.Save(ctx, done))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := svc.List(ctx, &dao.Parameter{Name: "State", Value: string(model.ProcessStateCompleted)})
	require.NoError(t, err)
	assert.Len(t, completed, 1)
	assert.Equal(t, "proc-5", completed[0].ID)
}
