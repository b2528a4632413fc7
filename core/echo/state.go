package echo

import (
	"errors"
	"fmt"
)

// Activation is whether the zone is currently triggered.
type Activation int

const (
	Inactive Activation = iota
	Active
)

func (a Activation) String() string {
	switch a {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	}
	return fmt.Sprintf("activation(%d)", int(a))
}

// LocationStatus is the last inside/outside result for the zone.
type LocationStatus int

const (
	Outside LocationStatus = iota
	Inside
)

func (s LocationStatus) String() string {
	switch s {
	case Outside:
		return "outside"
	case Inside:
		return "inside"
	}
	return fmt.Sprintf("location(%d)", int(s))
}

// LoadingState is the lifecycle of an echo's player set.
type LoadingState int

const (
	Unloaded LoadingState = iota
	Loading
	Loaded
	LoadError
)

func (s LoadingState) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadError:
		return "error"
	}
	return fmt.Sprintf("loading(%d)", int(s))
}

// The enums render as their names in JSON.

func (a Activation) MarshalText() ([]byte, error)     { return []byte(a.String()), nil }
func (s LocationStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
func (s LoadingState) MarshalText() ([]byte, error)   { return []byte(s.String()), nil }

// RawValueError reports a persisted enum value outside its defined range.
type RawValueError struct {
	Type  string
	Value int
	Max   int
}

func (e *RawValueError) Error() string {
	return fmt.Sprintf("echo: invalid %s raw value %d (want 0..%d)", e.Type, e.Value, e.Max)
}

func ParseActivation(v int) (Activation, error) {
	if v < int(Inactive) || v > int(Active) {
		return 0, &RawValueError{Type: "activation", Value: v, Max: int(Active)}
	}
	return Activation(v), nil
}

func ParseLocationStatus(v int) (LocationStatus, error) {
	if v < int(Outside) || v > int(Inside) {
		return 0, &RawValueError{Type: "location status", Value: v, Max: int(Inside)}
	}
	return LocationStatus(v), nil
}

func ParseLoadingState(v int) (LoadingState, error) {
	if v < int(Unloaded) || v > int(LoadError) {
		return 0, &RawValueError{Type: "loading state", Value: v, Max: int(LoadError)}
	}
	return LoadingState(v), nil
}

// Source is what produced an update.
type Source string

const (
	SourceLocation Source = "location"
	SourceBeacon   Source = "beacon"
)

var ErrUnknownSource = errors.New("echo: unknown update source")

func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceLocation, SourceBeacon:
		return Source(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}
