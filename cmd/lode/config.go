package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// DefaultConfigFile is read from the working directory unless --config says
// otherwise. A missing default file is not an error.
const DefaultConfigFile = "lode.yaml"

// Config represents the lode.yaml configuration file.
//
// Precedence: flags > LODE_* env vars > config file > defaults.
type Config struct {
	Backend       string        `mapstructure:"backend"`
	Connection    string        `mapstructure:"connection"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
	ModelsDir     string        `mapstructure:"models_dir"`
	Backends      []string      `mapstructure:"backends"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// configFlags maps config keys to the persistent flags overriding them.
var configFlags = map[string]string{
	"backend":        "backend",
	"connection":     "connection",
	"migrations_dir": "migrations-dir",
	"models_dir":     "models-dir",
	"backends":       "backends",
	"timeout":        "timeout",
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", DefaultConfigFile, "Path to config file")
	flags.String("backend", "", "Database backend: sqlite, pg, mysql, libsql or turso")
	flags.String("connection", "", "Backend connection string")
	flags.String("migrations-dir", "./lode_migrations", "Migrations directory")
	flags.String("models-dir", "./models", "Model declarations directory")
	flags.StringSlice("backends", nil, "Backends rendered for new migrations")
	flags.Duration("timeout", 30*time.Second, "Connect timeout")
	flags.BoolP("verbose", "v", false, "Log debug output")
}

// loadConfig reads the config file named by the config flag and overlays
// LODE_* environment variables and the flags that were set.
func loadConfig(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range configFlags {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, alerr.Wrap(alerr.ErrInternal, err, "failed to bind flag").With("flag", flag)
		}
	}

	path, _ := flags.GetString("config")
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		explicit := flags.Changed("config")
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, alerr.Wrap(alerr.ErrInvalidDeclaration, err, "failed to read config file").With("file", path)
		}
	}

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, alerr.Wrap(alerr.ErrInvalidDeclaration, err, "failed to decode config file").With("file", path)
	}

	// ${VAR} references keep credentials out of lode.yaml.
	cfg.Connection = os.ExpandEnv(cfg.Connection)
	return cfg, nil
}
