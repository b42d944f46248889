package inject

import (
	"bytes"
	"testing"

	"github.com/elm-watch/elm-watch-go/internal/compiler"
	"github.com/elm-watch/elm-watch-go/internal/paths"
)

const fakeCompiledJS = `
var app = _Platform_initialize(flags, node, function(sendToApp) {
  var view = impl.e;
  _Platform_export({
    'Main': {'init': app['init']}
  });
});
`

func TestInjectSucceedsOnWellFormedOutput(t *testing.T) {
	dir := paths.MustAbsolute(t.TempDir())
	res := Inject([]byte(fakeCompiledJS), compiler.Make, dir)
	if res.Outcome != Injected {
		t.Fatalf("outcome = %v, want Injected", res.Outcome)
	}
	if !bytes.Contains(res.Code, []byte("window.__elmWatchProgram")) {
		t.Error("missing program capture")
	}
	if !bytes.Contains(res.Code, []byte("window.__elmWatchLastView")) {
		t.Error("missing view tag")
	}
	if !bytes.Contains(res.Code, []byte("__elmWatchDebugMetadata")) {
		t.Error("missing debug metadata block")
	}
}

func TestInjectReportsProbeNotFoundAndWritesDiagnostic(t *testing.T) {
	dir := paths.MustAbsolute(t.TempDir())
	res := Inject([]byte("this is not elm output at all"), compiler.Make, dir)
	if res.Outcome != ProbeNotFound {
		t.Fatalf("outcome = %v, want ProbeNotFound", res.Outcome)
	}
	if res.DiagnosticFile.IsZero() {
		t.Fatal("expected a diagnostic file")
	}
	data, err := res.DiagnosticFile.ReadFile()
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Contains(data, []byte("probe:")) {
		t.Error("diagnostic missing probe field")
	}
}
