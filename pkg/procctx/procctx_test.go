package procctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/model"
)

func TestInitializeRequiresAProcessName(t *testing.T) {
	assert.False(t, IsInitialized())

	_, err := Initialize("h1", "", config.Default(), nil, nil)
	assert.Error(t, err)
	assert.False(t, IsInitialized())
}

func TestInitializeFinalizeLifecycle(t *testing.T) {
	require.False(t, IsInitialized())

	ctx, err := Initialize("h1", "proc-a", config.Default(), nil, nil)
	require.NoError(t, err)
	require.True(t, IsInitialized())
	assert.NotEmpty(t, ctx.ProcessID)
	assert.True(t, ctx.Ok())

	require.NoError(t, Finalize())
	assert.False(t, IsInitialized())
}

func TestInitializeIsReferenceCounted(t *testing.T) {
	first, err := Initialize("h1", "proc-a", config.Default(), nil, nil)
	require.NoError(t, err)

	second, err := Initialize("h1", "proc-a", config.Default(), nil, nil)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, Finalize())
	assert.True(t, IsInitialized(), "one reference should remain")

	require.NoError(t, Finalize())
	assert.False(t, IsInitialized())
}

func TestFinalizeWithoutInitializeFails(t *testing.T) {
	err := Finalize()
	assert.Error(t, err)
}

func TestSetProcessStateAffectsOk(t *testing.T) {
	ctx, err := Initialize("h1", "proc-a", config.Default(), nil, nil)
	require.NoError(t, err)
	defer Finalize()

	assert.True(t, ctx.Ok())

	ctx.SetProcessState(model.ProcessState{Severity: model.SeverityFailed, Info: "disk full"})
	assert.False(t, ctx.Ok())
}

func TestShutdownHandlersOnlyMatchLocalProcess(t *testing.T) {
	ctx, err := Initialize("h1", "proc-a", config.Default(), nil, nil)
	require.NoError(t, err)
	defer Finalize()

	var ran bool
	ctx.OnShutdownRequested(func() { ran = true })

	assert.False(t, ctx.ShutdownProcessByID("someone-else"))
	assert.False(t, ran)

	assert.True(t, ctx.ShutdownProcessByName("proc-a"))
	assert.True(t, ran)
}
