package config

import "github.com/kelseyhightower/envconfig"

// Config holds the environment configuration of the bot process.
type Config struct {
	BotToken    string `envconfig:"BOT_TOKEN" required:"true"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	JarURL      string `envconfig:"JAR_URL" required:"true"`
	PhrasesPath string `envconfig:"RAFFLE_PHRASES_PATH"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
