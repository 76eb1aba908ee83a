package app

import (
	"fmt"
	"os"

	"gridpermit/internal/config"
)

// ResolveConfig loads gridpermit.yml from the workspace, falling back to the
// built-in defaults when no file exists. Commands that only read data work
// without an init step.
func ResolveConfig(workspace, utilityID string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		if utilityID == "" {
			utilityID = "local-utility"
		}
		cfg = config.Default(utilityID)
	}
	return cfg, nil
}

// InitWorkspace writes the default gridpermit.yml. Refuses to clobber an
// existing file.
func InitWorkspace(workspace, utilityID string) (string, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config %s already exists", path)
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if utilityID == "" {
		utilityID = "local-utility"
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(utilityID)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
