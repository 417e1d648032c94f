package universe

import (
	"errors"
	"fmt"
)

// ErrConfig is the sentinel every ConfigError unwraps to.
var ErrConfig = errors.New("invalid configuration")

// ConfigError rejects a host request before it reaches the network.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

func configErr(field string, value interface{}, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}
