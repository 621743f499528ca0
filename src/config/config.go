package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Token       string
	GuildID     string
	CommandChar string
	MySQLDSN    string
	SQLitePath  string
	RedisURL    string
	APIPort     string
	JWTSecret   string
	AdminKey    string
}

// Load reads .env if present, then the environment. Values that have
// a per-guild setting (currency symbol, fee tiers, schedules) live in
// the settings table, not here.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env: %v", err)
	}

	return Config{
		Token:       os.Getenv("DISCORD_TOKEN"),
		GuildID:     os.Getenv("GUILD_ID"),
		CommandChar: getenv("COMMAND_CHAR", "!"),
		MySQLDSN:    os.Getenv("MYSQL_DSN"),
		SQLitePath:  getenv("SQLITE_PATH", "onpage.db"),
		RedisURL:    getenv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		APIPort:     getenv("API_PORT", "8090"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		AdminKey:    os.Getenv("ADMIN_KEY"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
