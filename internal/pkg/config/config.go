package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Store drivers understood by StoreDriver
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

//DefaultAllowedOrigins are the local development front ends allowed to send the session cookie
const DefaultAllowedOrigins = "http://localhost:3000,http://localhost:5173"

//Config holds everything the service reads from its environment
type Config struct {
	Port string

	StoreDriver string
	SQLitePath  string
	SeedFile    string

	PostgresHost     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MongoURI string
	MongoDB  string

	JWTSecret string
	JWTTTL    time.Duration

	RedisAddress     string
	RedisPassword    string
	RedisQueuePrefix string
	PinCreateLimit   int
	PinCreateWindow  time.Duration

	RabbitMQEnabled bool

	DeletePolicy   domain.DeletePolicy
	CatalogFile    string
	AllowedOrigins []string

	MapTileURL     string
	MapAttribution string
}

//LoadFromEnvironment reads an optional .env file and then the process environment
func LoadFromEnvironment() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found")
	}
	return Load(os.Getenv)
}

//Load builds a configuration from a lookup function, applying defaults for missing values
func Load(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var err error
	cfg := Config{
		Port:             get("ACCESSMAP_API_PORT", "8484"),
		StoreDriver:      strings.ToLower(get("STORE_DRIVER", StoreSQLite)),
		SQLitePath:       get("SQLITE_PATH", ""),
		SeedFile:         get("SEED_FILE", ""),
		PostgresHost:     get("POSTGRES_HOST", "localhost"),
		PostgresUser:     get("POSTGRES_USER", "postgres"),
		PostgresPassword: get("POSTGRES_PASSWORD", ""),
		PostgresDB:       get("POSTGRES_DBNAME", "accessmap"),
		PostgresSSLMode:  get("POSTGRES_SSLMODE", "disable"),
		MongoURI:         get("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:          get("MONGO_DB", "accessmap"),
		JWTSecret:        get("JWT_SECRET", ""),
		RedisAddress:     get("REDIS_ADDRESS", ""),
		RedisPassword:    get("REDIS_PASSWORD", ""),
		RedisQueuePrefix: get("REDIS_QUEUE_FOR_PIN_LIMIT", "pin-create-limit"),
		CatalogFile:      get("CATALOG_FILE", ""),
		MapTileURL:       get("MAP_TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
		MapAttribution:   get("MAP_ATTRIBUTION", "&copy; OpenStreetMap contributors"),
	}

	switch cfg.StoreDriver {
	case StoreSQLite, StorePostgres, StoreMongo:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("please define the JWT_SECRET environment variable")
	}

	if cfg.JWTTTL, err = time.ParseDuration(get("JWT_TTL", "72h")); err != nil {
		return Config{}, fmt.Errorf("invalid JWT_TTL: %w", err)
	}

	if cfg.PinCreateLimit, err = strconv.Atoi(get("PIN_CREATE_LIMIT", "50")); err != nil || cfg.PinCreateLimit < 1 {
		return Config{}, fmt.Errorf("invalid PIN_CREATE_LIMIT %q", getenv("PIN_CREATE_LIMIT"))
	}

	if cfg.PinCreateWindow, err = time.ParseDuration(get("PIN_CREATE_WINDOW", "24h")); err != nil {
		return Config{}, fmt.Errorf("invalid PIN_CREATE_WINDOW: %w", err)
	}

	if cfg.RabbitMQEnabled, err = strconv.ParseBool(get("RABBITMQ_ENABLED", "false")); err != nil {
		return Config{}, fmt.Errorf("invalid RABBITMQ_ENABLED: %w", err)
	}

	if cfg.DeletePolicy, err = domain.ParseDeletePolicy(getenv("DELETE_POLICY")); err != nil {
		return Config{}, err
	}

	for _, origin := range strings.Split(get("CORS_ALLOWED_ORIGINS", DefaultAllowedOrigins), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg, nil
}
