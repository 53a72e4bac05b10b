package engine

import (
	"github.com/spaghettifunk/voxel/engine/config"
)

type ApplicationConfig struct {
	// Path of the TOML config file. The file is watched and reloaded while the engine runs.
	ConfigPath string
	// Settings the engine starts with. Nil loads ConfigPath.
	Config *config.Config
}

// load resolves the startup config.
func (ac *ApplicationConfig) load() (*config.Config, error) {
	if ac.Config != nil {
		return ac.Config, ac.Config.Validate()
	}
	return config.Load(ac.ConfigPath)
}
