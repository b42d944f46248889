package broker

// StatusKind is the tag carried by a StatusChanged server->client
// message, per spec.md §4.7.
type StatusKind string

const (
	StatusConnecting           StatusKind = "Connecting"
	StatusWaitingForCompilation StatusKind = "WaitingForCompilation"
	StatusSuccessfullyCompiled StatusKind = "SuccessfullyCompiled"
	StatusCompilationError     StatusKind = "CompilationError"
	StatusInjectError          StatusKind = "InjectError"
	StatusEvalError            StatusKind = "EvalError"
	StatusReloadRequired       StatusKind = "ReloadRequired"
	StatusUnexpectedError      StatusKind = "UnexpectedError"
)

// UnexpectedErrorKind enumerates the reasons an upgrade is rejected
// (spec.md §4.7 step 2) or a running connection goes wrong.
type UnexpectedErrorKind string

const (
	ErrorBadURL            UnexpectedErrorKind = "BadUrl"
	ErrorWrongVersion      UnexpectedErrorKind = "WrongVersion"
	ErrorTargetNotFound    UnexpectedErrorKind = "TargetNotFound"
	ErrorTargetDisabled    UnexpectedErrorKind = "TargetDisabled"
	ErrorParamsDecodeError UnexpectedErrorKind = "ParamsDecodeError"
	ErrorUnknownClientTag  UnexpectedErrorKind = "UnknownClientTag"
)

// ServerMessage is the envelope shape every server->client message
// takes: a "tag" discriminant field plus the payload fields of every tag
// in one flat struct, the ones a tag does not use left out by omitempty
// (the same tag-field shape as the teacher's sseEvent{Type string} in
// esmdev/hmr.go).
type ServerMessage struct {
	Tag string `json:"tag"`

	// StatusChanged payload.
	Status             StatusKind          `json:"status,omitempty"`
	CompiledTimestamp  int64               `json:"compiledTimestamp,omitempty"`
	UnexpectedErrorKind UnexpectedErrorKind `json:"unexpectedErrorKind,omitempty"`
	CandidateTargets   []string            `json:"candidateTargets,omitempty"`

	// HotReload payload.
	Code string `json:"code,omitempty"`

	// FullReload payload.
	Reasons []string `json:"reasons,omitempty"`
}

// StatusChanged builds a tagged StatusChanged envelope.
func StatusChanged(status StatusKind, compiledTimestamp int64) ServerMessage {
	return ServerMessage{Tag: "StatusChanged", Status: status, CompiledTimestamp: compiledTimestamp}
}

// UnexpectedError builds a tagged StatusChanged/UnexpectedError envelope
// carrying the candidate target names the client might have meant.
func UnexpectedError(kind UnexpectedErrorKind, candidates []string) ServerMessage {
	return ServerMessage{Tag: "StatusChanged", Status: StatusUnexpectedError, UnexpectedErrorKind: kind, CandidateTargets: candidates}
}

// HotReload builds a tagged HotReload envelope.
func HotReload(code string, compiledTimestamp int64) ServerMessage {
	return ServerMessage{Tag: "HotReload", Code: code, CompiledTimestamp: compiledTimestamp}
}

// FullReload builds a tagged FullReload envelope.
func FullReload(reasons []string) ServerMessage {
	return ServerMessage{Tag: "FullReload", Reasons: reasons}
}

// ClientMessage is the envelope shape every client->server message
// takes.
type ClientMessage struct {
	Tag             string `json:"tag"`
	CompilationMode string `json:"compilationMode,omitempty"` // ChangedCompilationMode
	TargetName      string `json:"targetName,omitempty"`      // FocusedTab
}

const (
	ClientChangedCompilationMode = "ChangedCompilationMode"
	ClientFocusedTab             = "FocusedTab"
	ClientExitRequested          = "ExitRequested"
)
