//go:build integration
// +build integration

package integration

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// init loads the nearest .env above this package so the live tests can pick
// up API keys without a shell export. Existing variables are not overwritten.
func init() {
	for _, p := range []string{
		".env",
		filepath.Join("..", ".env"),
		filepath.Join("..", "..", ".env"),
	} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}
