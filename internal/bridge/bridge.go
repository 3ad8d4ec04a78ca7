package bridge

import (
	"os"
)

// Bridge reads and writes the broker bridge directory.
type Bridge struct {
	cfg Config
}

// New creates a bridge handle and ensures the writable subdirectories
// exist.
func New(cfg Config) (*Bridge, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.eventsPath(), cfg.commandsPath(), cfg.intentsPath(), cfg.paramsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Bridge{cfg: cfg}, nil
}

// Config returns the resolved configuration.
func (b *Bridge) Config() Config {
	return b.cfg
}
