package sandbox

// HookKind identifies one of the four lifecycle hooks a script may
// declare.
type HookKind int

const (
	// HookStart runs once when a session starts.
	HookStart HookKind = iota + 1
	// HookGesture runs for each delivered gesture payload.
	HookGesture
	// HookTick runs for each delivered tick.
	HookTick
	// HookComplete runs when a session stops or completes.
	HookComplete
)

// registration function names, as seen by script authors.
const (
	nameOnStart    = "on_start"
	nameOnGesture  = "on_gesture"
	nameOnTick     = "on_tick"
	nameOnComplete = "on_complete"
)

// hookKinds lists all kinds in declaration-surface order.
var hookKinds = []HookKind{HookStart, HookGesture, HookTick, HookComplete}

// String returns the registration function name for the kind.
func (k HookKind) String() string {
	switch k {
	case HookStart:
		return nameOnStart
	case HookGesture:
		return nameOnGesture
	case HookTick:
		return nameOnTick
	case HookComplete:
		return nameOnComplete
	default:
		return "unknown"
	}
}

// HookSet records which hook kinds a script declares.
type HookSet struct {
	declared [4]bool
}

// Has reports whether the kind is declared.
func (s HookSet) Has(kind HookKind) bool {
	if kind < HookStart || kind > HookComplete {
		return false
	}
	return s.declared[kind-1]
}

// add marks a kind as declared, reporting false if it already was.
func (s *HookSet) add(kind HookKind) bool {
	if s.declared[kind-1] {
		return false
	}
	s.declared[kind-1] = true
	return true
}

// Names returns the declared hook names in declaration-surface order.
func (s HookSet) Names() []string {
	names := make([]string, 0, 4)
	for _, k := range hookKinds {
		if s.Has(k) {
			names = append(names, k.String())
		}
	}
	return names
}
