package flume

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureExit replaces osExit for the duration of the test and records the
// codes it was called with.
func captureExit(t *testing.T) *[]int {
	t.Helper()
	var codes []int
	prev := osExit
	osExit = func(code int) { codes = append(codes, code) }
	t.Cleanup(func() { osExit = prev })
	return &codes
}

func TestHandlePanicNilIsNoop(t *testing.T) {
	codes := captureExit(t)
	HandlePanic(nil)
	assert.Empty(t, *codes)
}

func TestHandlePanicWithoutPipelineStillExits(t *testing.T) {
	Shutdown()
	codes := captureExit(t)
	HandlePanic("unlogged")
	assert.Equal(t, []int{ExitCodePanic}, *codes)
}

func TestHandlePanicLogsDumpsAndExits(t *testing.T) {
	codes := captureExit(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	dumpPath := filepath.Join(dir, "forensic.log")

	_, err := NewBuilder().Test().
		RawFile(RawFile{Path: logPath, Format: MessageOnlyFormat}).
		RingFile(RingFile{Path: dumpPath, Format: MessageOnlyFormat}).
		Build()
	require.NoError(t, err)

	HandlePanic("boom")

	assert.Equal(t, []int{ExitCodePanic}, *codes)
	assert.Nil(t, Active(), "pipeline should be shut down before exit")
	assert.Contains(t, fileContent(t, logPath), "panic: boom")
	assert.Contains(t, fileContent(t, logPath), "goroutine", "stack trace missing")
	assert.Contains(t, fileContent(t, dumpPath), "panic: boom", "ring sink not dumped")
}

func TestHandlePanicContinueOnPanic(t *testing.T) {
	defer Shutdown()
	codes := captureExit(t)
	logPath := filepath.Join(t.TempDir(), "app.log")

	p, err := NewBuilder().Test().ContinueOnPanic().
		RawFile(RawFile{Path: logPath, Format: MessageOnlyFormat}).
		Build()
	require.NoError(t, err)

	HandlePanic("recoverable")

	assert.Empty(t, *codes, "ContinueOnPanic must not exit")
	assert.Same(t, p, Active(), "pipeline must stay installed")
	assert.Contains(t, fileContent(t, logPath), "panic: recoverable")

	// The pipeline remains usable after the guarded panic.
	require.NoError(t, Log(NewRecord(LevelInfo, 0, "still alive")))
	assert.Contains(t, fileContent(t, logPath), "still alive")
}

func TestGuardRoutesPanics(t *testing.T) {
	defer Shutdown()
	codes := captureExit(t)
	logPath := filepath.Join(t.TempDir(), "app.log")

	_, err := NewBuilder().Test().ContinueOnPanic().
		RawFile(RawFile{Path: logPath, Format: MessageOnlyFormat}).
		Build()
	require.NoError(t, err)

	Guard(func() { panic("guarded crash") })

	assert.Empty(t, *codes)
	assert.Contains(t, fileContent(t, logPath), "panic: guarded crash")
}

func TestGuardWithoutPanic(t *testing.T) {
	codes := captureExit(t)
	ran := false
	Guard(func() { ran = true })
	assert.True(t, ran)
	assert.Empty(t, *codes)
}

func TestExitCodePanicValue(t *testing.T) {
	assert.Equal(t, 0x70, ExitCodePanic)
}
