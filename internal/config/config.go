package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Provider   string           `mapstructure:"provider"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Table      TableConfig      `mapstructure:"table"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files

	TypeColumn     string            `mapstructure:"type_column"`
	IDColumn       string            `mapstructure:"id_column"`
	MetadataColumn string            `mapstructure:"metadata_column"`
	Tables         map[string]string `mapstructure:"tables"` // entity type -> table override
	CreateTables   bool              `mapstructure:"create_tables"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

type TableConfig struct {
	ServiceURL   string            `mapstructure:"service_url"` // defaults to https://<account>.table.core.windows.net
	AccountName  string            `mapstructure:"account_name"`
	AccountKey   string            `mapstructure:"account_key"`
	Tables       map[string]string `mapstructure:"tables"` // entity type -> table override
	PageSize     int32             `mapstructure:"page_size"`
	CreateTables bool              `mapstructure:"create_tables"`
}

// URL returns the table service endpoint.
func (t TableConfig) URL() string {
	if t.ServiceURL != "" {
		return t.ServiceURL
	}
	return fmt.Sprintf("https://%s.table.core.windows.net/", t.AccountName)
}

type EncryptionConfig struct {
	KeyEncryptionKeyID string            `mapstructure:"key_encryption_key_id"`
	Keys               map[string]string `mapstructure:"keys"`          // key id -> base64 32-byte key
	MasterSecret       string            `mapstructure:"master_secret"` // derives keys not listed in Keys
}

// Enabled reports whether a KEK is configured.
func (e EncryptionConfig) Enabled() bool {
	return e.KeyEncryptionKeyID != ""
}

// Load reads entitymeta.yaml from the working directory (if present) and the
// environment. ENTITYMETA_DATABASE_HOST overrides database.host, and so on.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("entitymeta")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")

	setDefaults(v)

	v.SetEnvPrefix("entitymeta")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	v.SetEnvPrefix("entitymeta")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return unmarshal(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "postgres")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("database.type_column", "entitytype")
	v.SetDefault("database.id_column", "entityid")
	v.SetDefault("database.metadata_column", "metadata")
	v.SetDefault("database.create_tables", false)

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("table.service_url", "")
	v.SetDefault("table.account_name", "")
	v.SetDefault("table.account_key", "")
	v.SetDefault("table.page_size", 0)
	v.SetDefault("table.create_tables", false)
	v.SetDefault("encryption.key_encryption_key_id", "")
	v.SetDefault("encryption.master_secret", "")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot start a provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case "postgres":
		if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
			return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
		}
	case "table":
		if c.Table.AccountName == "" {
			return fmt.Errorf("table.account_name is required for the table provider")
		}
	case "memory":
	default:
		return fmt.Errorf("provider must be postgres, table or memory, got %q", c.Provider)
	}
	if c.Encryption.Enabled() && len(c.Encryption.Keys) == 0 && c.Encryption.MasterSecret == "" {
		return fmt.Errorf("encryption.key_encryption_key_id is set but no keys or master_secret are configured")
	}
	return nil
}

// TableOverrides re-keys a tables map by registered type name. Viper folds
// map keys to lower case, so lookups ignore case.
func TableOverrides(tables map[string]string, typeNames []string) map[string]string {
	out := make(map[string]string, len(tables))
	for _, name := range typeNames {
		for key, table := range tables {
			if strings.EqualFold(key, name) {
				out[name] = table
			}
		}
	}
	return out
}
