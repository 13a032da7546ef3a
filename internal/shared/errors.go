package shared

import "errors"

var (
	// ErrConfiguration indicates invalid generator ranges or flag combinations.
	ErrConfiguration = errors.New("configuration error")
	// ErrConnection indicates a sink handle could not be acquired.
	ErrConnection = errors.New("connection error")
	// ErrTransport indicates a write or publish call itself failed.
	ErrTransport = errors.New("transport error")
	// ErrWrongHandle indicates a scenario received a sink handle it cannot drive.
	ErrWrongHandle = errors.New("sink handle does not support scenario")
)

// IsConfiguration reports whether err belongs to the configuration class.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
