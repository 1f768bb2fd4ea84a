package grammar

import "fmt"

// UnsupportedFeatureError reports a grammar construct that cannot be
// expressed in the requested dialect. It is raised before any provider call.
type UnsupportedFeatureError struct {
	Reason string
}

func (e *UnsupportedFeatureError) Error() string {
	return e.Reason
}

func unsupportedf(format string, args ...any) error {
	return &UnsupportedFeatureError{Reason: fmt.Sprintf(format, args...)}
}
