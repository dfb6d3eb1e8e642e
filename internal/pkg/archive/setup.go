package archive

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"
)

var (
	globalClient *Client
	setupOnce    sync.Once
)

// Setup initializes the global archive client from the environment. When
// archiving is disabled or misconfigured the portal keeps working without
// the archive fallback, so setup failures are logged and swallowed.
func Setup() {
	setupOnce.Do(func() {
		cfg, err := LoadConfig()
		if err != nil {
			log.Errorf("[Archive] Invalid archive configuration: %v", err)
			return
		}
		if !cfg.IsEnabled() {
			log.Info("[Archive] Attachment archiving disabled")
			return
		}

		client, err := NewClient(cfg)
		if err != nil {
			log.Errorf("[Archive] Failed to initialize archive client: %v", err)
			return
		}
		globalClient = client
	})
}

// GetClient returns the global archive client, or nil when archiving is
// unavailable.
func GetClient() *Client {
	return globalClient
}

// GetConfig returns the configuration of the global client, or nil.
func GetConfig() *Config {
	if globalClient == nil {
		return nil
	}
	return globalClient.config
}
