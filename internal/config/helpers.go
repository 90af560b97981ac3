package config

import (
	"github.com/nof0labs/stratrun/pkg/executor"
	"github.com/nof0labs/stratrun/pkg/manager"
)

// MustLoadExecutor loads the default executor configuration and panics on error.
func MustLoadExecutor() *executor.Config {
	return executor.MustLoad()
}

// MustLoadManager loads the default manager configuration and panics on error.
func MustLoadManager() *manager.Config {
	return manager.MustLoad()
}
