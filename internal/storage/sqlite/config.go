package sqlite

import "fmt"

// Config holds SQLite adapter configuration
type Config struct {
	DatabasePath string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DatabasePath is required")
	}
	return nil
}
