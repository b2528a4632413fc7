package element

// Backend names a player implementation.
type Backend int

const (
	BackendStream Backend = iota
	BackendLocal
	BackendSpatial
)

func (b Backend) String() string {
	switch b {
	case BackendStream:
		return "stream"
	case BackendLocal:
		return "local"
	case BackendSpatial:
		return "spatial"
	}
	return "unknown"
}

// SelectBackend picks the player for d. It is a pure function of the descriptor and the
// offline flag and is evaluated once per load.
func SelectBackend(d Descriptor, offline bool) Backend {
	switch {
	case d.NeedsAdvancedBackend():
		return BackendSpatial
	case offline || d.LocalPath != "":
		return BackendLocal
	default:
		return BackendStream
	}
}
