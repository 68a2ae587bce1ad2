package startup

import (
	"path/filepath"

	"sentinel.io/infrastructure/logger"
)

// Used to start services such as loggers before anything else runs.
func StartServices(dataDir string) {
	logger.InitializeLogger(filepath.Join(dataDir, "logs"))
}
