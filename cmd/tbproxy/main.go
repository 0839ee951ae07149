package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/tbproxy/tbproxy/backend"
	"github.com/tbproxy/tbproxy/config"
	"github.com/tbproxy/tbproxy/logging"
	"github.com/tbproxy/tbproxy/mariadb"
	"github.com/tbproxy/tbproxy/metrics"
	"github.com/tbproxy/tbproxy/policy"
	"github.com/tbproxy/tbproxy/rewrite"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	metricsAddr := flag.String("metrics", ":9090", "metrics endpoint address")
	logLevel := flag.String("log-level", "", "log level, overriding logging.level from the config file")
	_ = flag.CommandLine.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, File: cfg.Logging.File, JSON: cfg.Logging.JSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}

	metrics.Init()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Info().Str("addr", *metricsAddr).Msg("metrics endpoint listening")
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	pool := backend.NewPool(backendConfig(cfg), &backend.SQLConnector{DSN: cfg.Backend.ConnectionString})

	proxy := mariadb.New(fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port), pool, policyConfig(cfg), rewriteConfig(cfg), log)
	if err := proxy.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start proxy")
		os.Exit(1)
	}

	log.Info().Msg("tbproxy started; send SIGHUP to reload config, SIGINT/SIGTERM to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error().Err(err).Msg("failed to reload config")
				continue
			}
			proxy.UpdatePolicy(policyConfig(newCfg), rewriteConfig(newCfg))
			cfg = newCfg
			log.Info().Msg("configuration reloaded")

		case syscall.SIGINT, syscall.SIGTERM:
			log.Info().Msg("shutting down")
			return
		}
	}
}

func backendConfig(cfg *config.Config) backend.Config {
	return backend.Config{
		PoolSize:    cfg.Backend.PoolSize,
		Timeout:     cfg.Backend.Timeout(),
		PrePing:     cfg.Backend.PoolPrePing,
		PoolRecycle: cfg.Backend.PoolRecycle(),
	}
}

func rewriteConfig(cfg *config.Config) rewrite.Config {
	return rewrite.Config{
		UnwrapSubqueries: cfg.Transformations.UnwrapSubqueries,
		AutoFixGroupBy:   cfg.Transformations.AutoFixGroupBy,
		MaxSubqueryDepth: cfg.Transformations.MaxSubqueryDepth,
	}
}

func policyConfig(cfg *config.Config) policy.Config {
	unsupported := make(map[string]bool, len(cfg.Capabilities.UnsupportedFeatures))
	for _, f := range cfg.Capabilities.UnsupportedFeatures {
		unsupported[f] = true
	}
	return policy.Config{
		BlockWrites:          cfg.Security.BlockWrites,
		UnsupportedFeatures:  unsupported,
		UnsupportedFunctions: cfg.Capabilities.UnsupportedFunctions,
		RequireDateColumn:    cfg.BusinessRules.RequireCobDate,
		DateColumns:          cfg.BusinessRules.DateColumns,
	}
}
