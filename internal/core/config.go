package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// server components.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Include the file and line number of the log call.
		IncludeCaller bool `mapstructure:"include_caller"`
	} `mapstructure:"logging"`

	Networking struct {
		// X.509 certificate and private key. If both exist the listener uses TLS.
		CertificateFile string `mapstructure:"certificate_file"`
		KeyFile         string `mapstructure:"key_file"`
	} `mapstructure:"networking"`

	Database struct {
		// Either "postgres" or "sqlite".
		Engine string `mapstructure:"engine"`
		// Name of the database file (sqlite only), relative to the config directory.
		Filename string `mapstructure:"filename"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Name     string `mapstructure:"name"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Redis struct {
		// host:port of the session cache. Blank disables redis entirely.
		Address   string `mapstructure:"address"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		KeyPrefix string `mapstructure:"key_prefix"`
		// Expiry applied to session hashes. Zero keeps them until deleted.
		SessionTTL time.Duration `mapstructure:"session_ttl"`
	} `mapstructure:"redis"`

	WorldAllocation struct {
		// Delay between reads of a pending world server request.
		PollInterval time.Duration `mapstructure:"poll_interval"`
		// Total time a requester waits for the request to complete.
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"world_allocation"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which the pprof and /metrics server will be started.
		PprofPort int `mapstructure:"pprof_port"`
		// Dump decoded packets to the log.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`

	configDir string
}

const envVarPrefix = "REALM"

// ErrConfigNotFound is returned by LoadConfig when no config file exists in the path.
var ErrConfigNotFound = errors.New("no config file found")

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("max_connections", 3000)
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.filename", "realm.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("redis.key_prefix", "realm:sessions:")
	v.SetDefault("world_allocation.poll_interval", 100*time.Millisecond)
	v.SetDefault("world_allocation.timeout", 100*time.Second)
	v.SetDefault("debugging.pprof_port", 4000)
}

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w in path %s", ErrConfigNotFound, configPath)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	config.configDir = configPath
	return config, nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// QualifiedPath resolves a path from the config file relative to the directory
// containing the config file. Absolute paths are returned as-is.
func (c *Config) QualifiedPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.configDir, path)
}

// ListenAddress returns the host:port pair on which a server bound to port listens.
func (c *Config) ListenAddress(port int) string {
	return fmt.Sprintf("%s:%d", c.Hostname, port)
}
