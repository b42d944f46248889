// Package clientjs owns the browser-side runtime contract: the literal
// client runtime JS rendered by RuntimeScript, and a pure-Go mirror of its
// hot-vs-full-reload decision so the supervisor can log the same
// decision server-side and tests can assert it without a browser.
package clientjs

import "fmt"

// runtimeTemplate is the client runtime script RuntimeScript renders, the
// same "literal Go string constant, %-verb parameterized"
// shape as the teacher's cssModuleTemplate/assetModuleTemplate in
// esmdev/assets.go (there: CSS/asset wrapper modules; here: the status
// overlay and WebSocket client).
const runtimeTemplate = `(function () {
  var targetName = %q;
  var elmWatchVersion = %q;
  var compiledTimestamp = %d;
  var backoffSchedule = [1.01, 1.04, 1.09];
  var attempt = 0;
  var socket = null;
  var state = "Connecting";

  function overlayRoot() {
    var host = document.getElementById("__elmWatchOverlay");
    if (host) return host.shadowRoot;
    host = document.createElement("div");
    host.id = "__elmWatchOverlay";
    document.body.appendChild(host);
    return host.attachShadow({ mode: "open" });
  }

  function setStatus(next) {
    state = next;
    var root = overlayRoot();
    root.innerHTML = "<div>elm-watch: " + next + "</div>";
  }

  function backoffDelay() {
    var idx = Math.min(attempt, backoffSchedule.length - 1);
    attempt++;
    return backoffSchedule[idx] * 1000;
  }

  function connect() {
    setStatus("Connecting");
    var url = "ws://" + location.host + "/?elmWatchVersion=" + elmWatchVersion +
      "&targetName=" + encodeURIComponent(targetName) +
      "&elmCompiledTimestamp=" + compiledTimestamp;
    socket = new WebSocket(url);
    socket.onmessage = onMessage;
    socket.onclose = function () {
      setTimeout(connect, backoffDelay());
    };
  }

  function onMessage(event) {
    var msg = JSON.parse(event.data);
    switch (msg.tag) {
      case "StatusChanged":
        setStatus(msg.status);
        break;
      case "HotReload":
        window.__elmWatchApplyHotReload && window.__elmWatchApplyHotReload(msg.code, msg.compiledTimestamp);
        break;
      case "FullReload":
        location.reload();
        break;
    }
  }

  window.__elmWatchExit = function () {
    if (socket) socket.close();
  };
  window.__elmWatchReloadPage = function () {
    location.reload();
  };

  connect();
})();
`

// RuntimeScript renders the client runtime for one target. Only tests
// call it: the supervisor and the make command publish bundles without
// appending it.
func RuntimeScript(targetName, elmWatchVersion string, compiledTimestamp int64) string {
	return fmt.Sprintf(runtimeTemplate, targetName, elmWatchVersion, compiledTimestamp)
}

// ProgramType is the shape of Elm's top-level program constructor, used
// to detect a program-type change across compiles (spec.md §4.8).
type ProgramType string

const (
	ProgramSandbox  ProgramType = "sandbox"
	ProgramElement  ProgramType = "element"
	ProgramDocument ProgramType = "document"
	ProgramApplication ProgramType = "application"
)

// ArtifactMeta is the subset of a compiled artifact's shape the
// hot-vs-full-reload rules in spec.md §4.8 depend on.
type ArtifactMeta struct {
	ProgramType      ProgramType
	DebugMode        bool
	DebugMetadata    string // serialized debug-metadata blob, compared verbatim
	OptimizeMode     bool
	RecordFieldOrder string // serialized record-mangling table, compared verbatim
	FlagsShape       string // serialized flags decoder shape
	ModelShape       string // serialized init-produced model shape
	Ports            []string
}

// Decision is the outcome of comparing two ArtifactMeta snapshots.
type Decision struct {
	FullReload bool
	Reasons    []string
	Warnings   []string
}

// DecideReload mirrors the client runtime's hot-vs-full-reload rules in
// Go, so the supervisor can log the same decision it expects the
// browser to reach, and so tests can assert the rules in spec.md §8
// without a browser. A batch of changes accumulates into one Decision
// listing every reason, matching "a batch of hot-reload messages that
// arrive close in time consolidates into a single reload decision".
func DecideReload(old, new ArtifactMeta) Decision {
	var reasons []string

	if old.ProgramType != new.ProgramType {
		reasons = append(reasons, fmt.Sprintf("program type changed (%s -> %s)", old.ProgramType, new.ProgramType))
	}
	if new.DebugMode && old.DebugMetadata != new.DebugMetadata {
		reasons = append(reasons, "debug metadata changed")
	}
	if old.OptimizeMode != new.OptimizeMode && old.RecordFieldOrder != new.RecordFieldOrder {
		reasons = append(reasons, "optimize mode changed record field mangling")
	}
	if old.FlagsShape != new.FlagsShape {
		reasons = append(reasons, "flags decoder shape changed")
	}
	if old.ModelShape != new.ModelShape {
		reasons = append(reasons, "init would return a differently-shaped model")
	}

	if len(reasons) > 0 {
		return Decision{FullReload: true, Reasons: reasons}
	}

	var warnings []string
	if len(new.Ports) > len(old.Ports) {
		warnings = append(warnings, "a new port was added; attempting hot patch")
	}
	return Decision{FullReload: false, Warnings: warnings}
}
