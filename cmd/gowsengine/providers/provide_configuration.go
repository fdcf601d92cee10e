package providers

import "github.com/gbdevw/gowsengine/internal/config"

// Path of the configuration file. Defaults only if empty.
type ConfigFile string

func ProvideConfiguration(file ConfigFile) (*config.Configuration, error) {
	return config.Load(string(file))
}
