package actions

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrepod/buildsvc/pkg/buildaction"
)

func TestCustomCommandRequiresDirectory(t *testing.T) {
	e := buildaction.NewEngine(t.TempDir(), hclog.NewNullLogger())
	e.RegisterRunner(buildaction.TypeCustomCommand, Adapter{Inner: &CustomCommand{}, Logger: hclog.NewNullLogger()})

	a := e.Create(buildaction.TypeCustomCommand, "test")
	a.Directory = ""
	require.NoError(t, e.Enqueue(context.Background(), a))

	require.Eventually(t, func() bool {
		a, _ := e.Get(a.ID)
		return a.Status == buildaction.StatusFinished
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, buildaction.ResultFailure, a.Result)
	assert.Equal(t, "No directory specified.", a.ResultData.Message)
}

func TestCustomCommandRunsShellCommand(t *testing.T) {
	e := buildaction.NewEngine(t.TempDir(), hclog.NewNullLogger())
	e.RegisterRunner(buildaction.TypeCustomCommand, Adapter{Inner: &CustomCommand{}, Logger: hclog.NewNullLogger()})

	a := e.Create(buildaction.TypeCustomCommand, "test")
	a.Directory = t.TempDir()
	a.Settings["command"] = "echo hello"
	require.NoError(t, e.Enqueue(context.Background(), a))

	require.Eventually(t, func() bool {
		a, _ := e.Get(a.ID)
		return a.Status == buildaction.StatusFinished
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, buildaction.ResultSuccess, a.Result)
	assert.Contains(t, a.Output(), "hello")
}
