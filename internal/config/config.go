package config

// Config holds everything the daemon needs to run. Module configs are
// composed in so a single yaml file configures the whole process.
type Config struct {
	ListenAddr string `yaml:"listen_addr"` // e.g., ":7420"
	LogDebug   bool   `yaml:"log_debug"`   // enable debug logging
	LogDir     string `yaml:"log_dir"`     // mirror logs into dated files here; empty keeps console only

	AuthSecret string `yaml:"auth_secret"` // HMAC secret for ws handshake tokens; empty disables auth

	Weather  WeatherConfig  `yaml:"weather"`  // Weather service configuration
	Upstream UpstreamConfig `yaml:"upstream"` // Upstream provider configuration
}

// WeatherConfig configures the weather service module.
type WeatherConfig struct {
	UpdateIntervalSeconds int      `yaml:"update_interval_seconds"` // periodic refresh + push interval
	Cities                []string `yaml:"cities"`                  // cities refreshed on the periodic tick
}

// UpstreamConfig configures the upstream weather provider.
type UpstreamConfig struct {
	URL            string `yaml:"url"`             // e.g., "https://weather.example.com/v1"; empty selects the static provider
	TimeoutSeconds int    `yaml:"timeout_seconds"` // per-request HTTP timeout
}
