package buildaction

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	result Result
	data   ResultData
}

func (r stubRunner) Run(ctx context.Context, action *BuildAction, sess *Session) {
	sess.Conclude(r.result, r.data)
}

func TestActionLifecycleMonotone(t *testing.T) {
	e := NewEngine(t.TempDir(), hclog.NewNullLogger())
	e.RegisterRunner(TypeCustomCommand, stubRunner{result: ResultSuccess})

	a := e.Create(TypeCustomCommand, "test")
	assert.Equal(t, StatusCreated, a.Status)

	require.NoError(t, e.Enqueue(context.Background(), a))

	require.Eventually(t, func() bool {
		a, _ := e.Get(a.ID)
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.Status == StatusFinished
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, ResultSuccess, a.Result)
}

func TestEnqueueWaitsForStartAfter(t *testing.T) {
	e := NewEngine(t.TempDir(), hclog.NewNullLogger())
	e.RegisterRunner(TypeCustomCommand, stubRunner{result: ResultSuccess})

	first := e.Create(TypeCustomCommand, "first")
	second := e.Create(TypeCustomCommand, "second")
	second.StartAfter = []uint64{first.ID}

	require.NoError(t, e.Enqueue(context.Background(), second))
	time.Sleep(20 * time.Millisecond)
	second.mu.Lock()
	assert.NotEqual(t, StatusFinished, second.Status, "must not run before its dependency reaches a terminal state")
	second.mu.Unlock()

	require.NoError(t, e.Enqueue(context.Background(), first))

	require.Eventually(t, func() bool {
		second.mu.Lock()
		defer second.mu.Unlock()
		return second.Status == StatusFinished
	}, time.Second, 5*time.Millisecond)
}

func TestAbortMarksAborted(t *testing.T) {
	e := NewEngine(t.TempDir(), hclog.NewNullLogger())
	a := e.Create(TypeCustomCommand, "test")
	require.NoError(t, e.Abort(a.ID))
	assert.True(t, e.isAborted(a.ID))
}

func TestBufferSearch(t *testing.T) {
	bs := NewBufferSearch([]byte("checksum="), []byte("\n"))
	bs.Write([]byte("building...\nchecksum=abc123\nnext line"))
	result, done := bs.Result()
	require.True(t, done)
	assert.Equal(t, "abc123", result)
}

func TestBufferSearchAcrossWrites(t *testing.T) {
	bs := NewBufferSearch([]byte("START"), []byte(";"))
	bs.Write([]byte("prefix ST"))
	bs.Write([]byte("ART payload;"))
	result, done := bs.Result()
	require.True(t, done)
	assert.Equal(t, " payload", result)
}

func TestMetaLookup(t *testing.T) {
	m := TypeInfoForName("prepare-build")
	assert.Equal(t, TypePrepareBuild, m.ID)

	invalid := TypeInfoForName("does-not-exist")
	assert.Equal(t, TypeInvalid, invalid.ID)
}
