// Package env provides configs backed by process environment variables.
package env

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/code-payments/shield-server/pkg/config"
	"github.com/code-payments/shield-server/pkg/config/wrapper"
)

// variable holds an environment value captured when the config is built.
// Later changes to the environment are not observed.
type variable struct {
	raw []byte
}

// NewConfig returns a config for the environment variable named by the
// upper-cased key. Unset and empty variables both report config.ErrNoValue.
func NewConfig(key string) config.Config {
	v := &variable{}
	if value, ok := os.LookupEnv(strings.ToUpper(key)); ok && value != "" {
		v.raw = []byte(value)
	}
	return v
}

func (v *variable) Get(_ context.Context) (interface{}, error) {
	if v.raw == nil {
		return nil, config.ErrNoValue
	}
	return v.raw, nil
}

func (v *variable) Shutdown() {}

func NewUint64Config(key string, defaultValue uint64) config.Uint64 {
	return wrapper.NewUint64Config(NewConfig(key), defaultValue)
}

func NewStringConfig(key string, defaultValue string) config.String {
	return wrapper.NewStringConfig(NewConfig(key), defaultValue)
}

func NewBoolConfig(key string, defaultValue bool) config.Bool {
	return wrapper.NewBoolConfig(NewConfig(key), defaultValue)
}

func NewDurationConfig(key string, defaultValue time.Duration) config.Duration {
	return wrapper.NewDurationConfig(NewConfig(key), defaultValue)
}
