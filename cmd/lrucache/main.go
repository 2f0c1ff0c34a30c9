/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Command lrucache runs a demonstration of the LRU cache or serves the cache over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	golog "log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/acronis/go-lrucache/cacheserver"
	"github.com/acronis/go-lrucache/config"
	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/lrucache"
	"github.com/acronis/go-lrucache/profserver"
	"github.com/acronis/go-lrucache/service"
)

const defaultEnvPrefix = "LRUCACHE"

type appFlags struct {
	configPath string
	envPrefix  string
	serve      bool
}

type appConfig struct {
	Log        *log.Config
	Cache      *lrucache.Config
	Server     *cacheserver.Config
	ProfServer *profserver.Config
}

func main() {
	if err := runApp(os.Args[1:], os.Stdout); err != nil {
		golog.Fatal(err)
	}
}

func parseFlags(args []string) (appFlags, error) {
	var flags appFlags
	fs := pflag.NewFlagSet("lrucache", pflag.ContinueOnError)
	fs.StringVarP(&flags.configPath, "config", "c", "", "path to YAML configuration file")
	fs.StringVar(&flags.envPrefix, "env-prefix", defaultEnvPrefix, "prefix of environment variables overriding configuration")
	fs.BoolVar(&flags.serve, "serve", false, "serve the cache over HTTP instead of running the demonstration")
	if err := fs.Parse(args); err != nil {
		return appFlags{}, err
	}
	return flags, nil
}

func loadAppConfig(flags appFlags) (*appConfig, error) {
	cfg := &appConfig{
		Log:        log.NewConfig(),
		Cache:      lrucache.NewConfig(),
		Server:     cacheserver.NewConfig(),
		ProfServer: profserver.NewConfig(),
	}
	cfgLoader := config.NewDefaultLoader(flags.envPrefix)
	if flags.configPath == "" {
		if err := cfgLoader.Load(cfg.Log, cfg.Cache, cfg.Server, cfg.ProfServer); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := cfgLoader.LoadFromFile(flags.configPath, config.DataTypeYAML, cfg.Log, cfg.Cache, cfg.Server, cfg.ProfServer); err != nil {
		return nil, fmt.Errorf("load config from file %q: %w", flags.configPath, err)
	}
	return cfg, nil
}

func runApp(args []string, out io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg, err := loadAppConfig(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	if !flags.serve {
		cache, cacheErr := lrucache.NewWithConfig[int](cfg.Cache, nil, logger)
		if cacheErr != nil {
			return fmt.Errorf("create cache: %w", cacheErr)
		}
		return runDemo(context.Background(), cache, out, defaultDemoTimings)
	}
	return serve(cfg, logger)
}

func serve(cfg *appConfig, logger log.FieldLogger) error {
	cacheMetrics := lrucache.NewPrometheusMetrics()
	cache, err := lrucache.NewSyncWithConfig[string](cfg.Cache, cacheMetrics, logger)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	units := []service.Unit{cacheserver.New(cfg.Server, cache, logger, cacheserver.Opts{CacheMetrics: cacheMetrics})}
	if cleanupInterval := time.Duration(cfg.Cache.CleanupInterval); cleanupInterval > 0 {
		units = append(units, service.NewWorkerUnit(service.WorkerFunc(func(ctx context.Context) error {
			cache.RunPeriodicCleanup(ctx, cleanupInterval)
			return nil
		})))
	}

	if cfg.ProfServer.Enabled {
		units = append(units, profserver.New(cfg.ProfServer, logger))
	}

	return service.New(logger, service.NewCompositeUnit(units...)).Start()
}
