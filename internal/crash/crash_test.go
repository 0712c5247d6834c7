package crash

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/syrou/reaktiv-devtools/internal/wire"
)

type fakeExporter struct {
	export    *wire.SessionExport
	lastCause error
	failPanic bool
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{
		export: &wire.SessionExport{
			Version:   wire.ExportVersion,
			SessionID: "s1",
		},
	}
}

func (f *fakeExporter) Export() *wire.SessionExport {
	return f.export
}

func (f *fakeExporter) ExportCrash(cause error, stack []byte) *wire.SessionExport {
	if f.failPanic {
		panic("export blew up")
	}
	f.lastCause = cause
	out := *f.export
	out.Crash = &wire.CrashInfo{
		Timestamp: time.Now().UnixMilli(),
		Exception: wire.ExceptionFromError(cause, stack),
	}
	return &out
}

func crashArtifacts(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read export dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "reaktiv_crash_") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestHandlePanicPersistsAndForwards(t *testing.T) {
	dir := t.TempDir()
	exporter := newFakeExporter()
	h := NewHandler(exporter, dir, nil)

	var forwarded any
	h.Install(func(v any) { forwarded = v })

	cause := errors.New("boom")
	h.HandlePanic(cause)

	require.Equal(t, cause, forwarded)
	require.Equal(t, cause, exporter.lastCause)

	names := crashArtifacts(t, dir)
	require.Len(t, names, 1)
	require.True(t, strings.HasSuffix(names[0], ".json"))

	data, err := os.ReadFile(filepath.Join(dir, names[0]))
	require.NoError(t, err)
	export, err := wire.ParseSessionExport(data)
	require.NoError(t, err)
	require.NotNil(t, export.Crash)
	require.Equal(t, "boom", export.Crash.Exception.Message)
}

func TestHandlePanicForwardsEvenWhenCaptureFails(t *testing.T) {
	exporter := newFakeExporter()
	exporter.failPanic = true
	h := NewHandler(exporter, t.TempDir(), nil)

	var forwarded any
	h.Install(func(v any) { forwarded = v })

	h.HandlePanic("original panic")
	require.Equal(t, "original panic", forwarded)
}

func TestHandlePanicWithoutInstallRethrows(t *testing.T) {
	h := NewHandler(newFakeExporter(), t.TempDir(), nil)

	require.PanicsWithValue(t, "boom", func() {
		h.HandlePanic("boom")
	})
}

func TestInstallIsIdempotent(t *testing.T) {
	h := NewHandler(newFakeExporter(), t.TempDir(), nil)

	first := 0
	h.Install(func(v any) { first++ })
	// The second install must not replace the chained handler.
	h.Install(func(v any) { t.Fatal("second handler must not be installed") })

	h.HandlePanic("x")
	require.Equal(t, 1, first)
}

func TestGuardRoutesPanicThroughHandler(t *testing.T) {
	dir := t.TempDir()
	exporter := newFakeExporter()
	h := NewHandler(exporter, dir, nil)

	var forwarded any
	h.Install(func(v any) { forwarded = v })

	func() {
		defer h.Guard()
		panic("goroutine crash")
	}()

	require.NotNil(t, forwarded)
	require.Len(t, crashArtifacts(t, dir), 1)
}

func TestGuardNoPanicIsNoOp(t *testing.T) {
	h := NewHandler(newFakeExporter(), t.TempDir(), nil)
	h.Install(nil)

	func() {
		defer h.Guard()
	}()
}

func TestSaveSessionManualExport(t *testing.T) {
	dir := t.TempDir()
	h := NewHandler(newFakeExporter(), dir, nil)

	path, err := h.SaveSession()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(path), "reaktiv_session_"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	export, err := wire.ParseSessionExport(data)
	require.NoError(t, err)
	require.Nil(t, export.Crash)
}
