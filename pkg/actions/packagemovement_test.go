package actions

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
)

func TestMovePackagesFailsForUnknownPackage(t *testing.T) {
	cfg := pkgdata.NewConfig()
	src := pkgdata.NewDatabase("testing", "x86_64")
	dst := pkgdata.NewDatabase("core", "x86_64")
	cfg.Databases = append(cfg.Databases, src, dst)

	e := buildaction.NewEngine(t.TempDir(), hclog.NewNullLogger())
	e.RegisterRunner(buildaction.TypeMovePackages, Adapter{Inner: &MovePackages{Config: cfg}, Logger: hclog.NewNullLogger()})

	a := e.Create(buildaction.TypeMovePackages, "test")
	a.SourceDbs = []string{"testing"}
	a.DestinationDbs = []string{"core"}
	a.PackageNames = []string{"does-not-exist"}
	require.NoError(t, e.Enqueue(context.Background(), a))

	require.Eventually(t, func() bool {
		a, _ := e.Get(a.ID)
		return a.Status == buildaction.StatusFinished
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, buildaction.ResultFailure, a.Result)
	require.NotNil(t, a.ResultData.Messages)
	assert.Len(t, a.ResultData.Messages.Errors, 1)
}

func TestRemovePackagesFailsForUnknownPackage(t *testing.T) {
	cfg := pkgdata.NewConfig()
	db := pkgdata.NewDatabase("core", "x86_64")
	cfg.Databases = append(cfg.Databases, db)

	e := buildaction.NewEngine(t.TempDir(), hclog.NewNullLogger())
	e.RegisterRunner(buildaction.TypeRemovePackages, Adapter{Inner: &RemovePackages{Config: cfg}, Logger: hclog.NewNullLogger()})

	a := e.Create(buildaction.TypeRemovePackages, "test")
	a.DestinationDbs = []string{"core"}
	a.PackageNames = []string{"does-not-exist"}
	require.NoError(t, e.Enqueue(context.Background(), a))

	require.Eventually(t, func() bool {
		a, _ := e.Get(a.ID)
		return a.Status == buildaction.StatusFinished
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, buildaction.ResultFailure, a.Result)
	require.NotNil(t, a.ResultData.Messages)
	assert.Len(t, a.ResultData.Messages.Errors, 1)
}
