package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcdev12/artphone/go/internal/config"
)

var cfgFile string

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("store", defaults.GetString("store.backend"), "State store backend (memory, postgres)")
	cmd.PersistentFlags().String("presence", defaults.GetString("presence.backend"), "Presence backend (memory, redis)")
	cmd.PersistentFlags().String("events", defaults.GetString("events.backend"), "Event backend (log, nats)")
	cmd.PersistentFlags().String("policy", defaults.GetString("session.policy_path"), "Session policy YAML file")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "store.backend", "store")
	bindFlag(cmd, "presence.backend", "presence")
	bindFlag(cmd, "events.backend", "events")
	bindFlag(cmd, "session.policy_path", "policy")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// initConfig reads the optional config file; env and flags work without one.
func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

// loadAppConfig reads the configuration and applies the log level.
func loadAppConfig() (config.AppConfig, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, err
	}
	zerolog.SetGlobalLevel(cfg.Level())
	log.Debug().
		Str("store", cfg.StoreBackend).
		Str("presence", cfg.PresenceBackend).
		Str("events", cfg.EventsBackend).
		Msg("configuration loaded")
	return cfg, nil
}
