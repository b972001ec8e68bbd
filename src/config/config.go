// Package config loads and validates the bridge's process-level
// configuration from the environment, following the same pattern the
// service used for its .env-backed settings: godotenv loads an optional
// .env file, then everything is read through os.Getenv with typed helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the bridge needs at
// startup. Nothing in here changes at runtime.
type Config struct {
	DiscordToken string
	Port         int

	// AtprotoBridgeDID and AtprotoBridgeAppPassword authenticate the
	// bridge's own PDS account, used to sign writes into Roomy spaces.
	AtprotoBridgeDID         string
	AtprotoBridgeAppPassword string

	LeafURL         string
	StreamNSID      string
	StreamHandleNSID string

	BehindProxy         bool
	RateLimitPerSecond  int
	RoomyBatchSize      int
	DispatchQueueWarnAt int
}

// Load reads .env (if present) and then the process environment, returning
// an error naming every missing required variable at once rather than
// failing on the first one.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	var missing []string
	require := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	cfg := Config{
		DiscordToken:             require("DISCORD_TOKEN"),
		AtprotoBridgeDID:         require("ATPROTO_BRIDGE_DID"),
		AtprotoBridgeAppPassword: require("ATPROTO_BRIDGE_APP_PASSWORD"),
		LeafURL:                  getOr("LEAF_URL", "https://leaf.roomy.chat"),
		StreamNSID:               getOr("STREAM_NSID", "town.muni.roomy.v0.stream"),
		StreamHandleNSID:         getOr("STREAM_HANDLE_NSID", "town.muni.roomy.v0.streamHandle"),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	port, err := getIntOr("PORT", 3301)
	if err != nil {
		return Config{}, err
	}
	cfg.Port = port

	cfg.BehindProxy = getBoolOr("BEHIND_PROXY", false)

	rl, err := getIntOr("RATE_LIMIT_PER_SECOND", 10)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerSecond = rl

	batch, err := getIntOr("ROOMY_BATCH_SIZE", 100)
	if err != nil {
		return Config{}, err
	}
	cfg.RoomyBatchSize = batch

	warnAt, err := getIntOr("DISPATCH_QUEUE_WARN", 10000)
	if err != nil {
		return Config{}, err
	}
	cfg.DispatchQueueWarnAt = warnAt

	return cfg, nil
}

func getOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getIntOr(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", name, v)
	}
	return n, nil
}

func getBoolOr(name string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}
