package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hiyorigaoka/roomkeeper/globals"
)

const (
	defaultLogLevel     = "INFO"
	defaultStatusAddr   = "localhost:8090"
	defaultLFGStaleness = 6 * time.Hour
)

// Config is the global configuration object which is filled via the
// configuration file, environment variables (ROOMKEEPER_ prefix) and flags.
type Config struct {
	DiscordConfig     DiscordConfig     `mapstructure:"discord"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	LFGConfig         LFGConfig         `mapstructure:"lfg"`
	LogLevel          string            `mapstructure:"log_level"`
	StatusAddr        string            `mapstructure:"status_addr"`
}

// DiscordConfig configures the connection to Discord and the two channels the
// bot watches: the lobby voice channel that triggers room creation and the
// "wanted" text channel carrying looking-for-game messages.
type DiscordConfig struct {
	Token           string   `mapstructure:"token"`
	LobbyChannelID  string   `mapstructure:"lobby_channel_id"`
	WantedChannelID string   `mapstructure:"wanted_channel_id"`
	IgnoreRoleIDs   []string `mapstructure:"ignore_role_ids"`
	APIBase         string   `mapstructure:"api_base"`
	GatewayURL      string   `mapstructure:"gateway_url"`
}

// PersistenceConfig configures the snapshot stores. Supported types are
// "buntdb", "sqlite" and "postgres"; the DSN is a file path for the first
// two. LockPath, if set, is flock'ed at startup so only one instance runs
// against the same data.
type PersistenceConfig struct {
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	LockPath string `mapstructure:"lock_path"`
}

// LFGConfig tunes the looking-for-game message handling. Filter is an
// optional expr expression evaluated against every candidate message (see
// package filter for the environment); Staleness is the window beyond which a
// message no longer counts as a game signal.
type LFGConfig struct {
	Filter    string        `mapstructure:"filter"`
	Staleness time.Duration `mapstructure:"staleness"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("status-addr", "", "listen address of the status/metrics endpoint")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath,
// which can either point to a single TOML file or to a directory, in which
// case all *.toml files in this directory are concatenated. It returns a
// Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", defaultLogLevel)
	viper.SetDefault("status_addr", defaultStatusAddr)
	viper.SetDefault("persistence.type", "buntdb")
	viper.SetDefault("lfg.staleness", defaultLFGStaleness)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("ROOMKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}

// Validate reports the settings without which the bot cannot operate.
func (c *Config) Validate() []string {
	var missing []string
	if c.DiscordConfig.Token == "" {
		missing = append(missing, "discord.token")
	}
	if c.DiscordConfig.LobbyChannelID == "" {
		missing = append(missing, "discord.lobby_channel_id")
	}
	if c.DiscordConfig.WantedChannelID == "" {
		missing = append(missing, "discord.wanted_channel_id")
	}
	return missing
}
