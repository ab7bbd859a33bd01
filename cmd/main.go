package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManouchehrRasoulli/dsbinder/internal/vars"
	"github.com/ManouchehrRasoulli/dsbinder/pkg"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/datasource"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/deploy"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/logger"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/model"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/naming"
	"github.com/ManouchehrRasoulli/dsbinder/pkg/notifier"
	"go.uber.org/zap"
)

func main() {
	var config string

	flag.StringVar(&config, "config", "config.yml", "specify configuration file for service.")
	flag.StringVar(&config, "c", "config.yml", "specify configuration file for service.")
	flag.Parse()

	cfg, err := pkg.ReadConfig(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error dsbinder : got error %v on reading configuration file %s\n", err, config)
		os.Exit(1)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Color: cfg.Log.Color, Name: "dsbinder"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error dsbinder : invalid log configuration %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Error("dsbinder :: exit with error", zap.Error(err))
		_ = lg.Sync()
		os.Exit(1)
	}
}

func run(cfg *pkg.Config, lg *zap.Logger) error {
	lg.Info("dsbinder :: start",
		zap.Strings("deployments", cfg.Deployments),
		zap.Duration("start_after", cfg.Notifier.StartAfter),
		zap.Duration("interval", cfg.Notifier.Interval))

	policy, err := datasource.ParseCredentialPolicy(cfg.Registry.CredentialPolicy)
	if err != nil {
		return err
	}

	pools := datasource.NewPoolRegistry(lg.Named("pool"))
	defer func() {
		if err := pools.Close(); err != nil {
			lg.Error("dsbinder :: closing pools", zap.Error(err))
		}
	}()

	nctx := naming.NewMemoryContext(naming.WithLogger(lg.Named("naming")))
	datasource.RegisterFactories(nctx, pools)

	registry := datasource.NewRegistry(pools,
		datasource.WithLogger(lg.Named("registry")),
		datasource.WithExpander(vars.NewExpander(cfg.Variables, true)),
		datasource.WithCredentialPolicy(policy),
		datasource.WithPrefix(cfg.Registry.Prefix))

	watcher := notifier.New(
		notifier.WithLogger(lg.Named("notifier")),
		notifier.WithSchedule(cfg.Notifier.StartAfter, cfg.Notifier.Interval))

	deployer := deploy.New(registry, nctx, watcher,
		deploy.WithLogger(lg.Named("deploy")),
		deploy.WithCallbackFunction(func(e model.Event, err error) {
			if err != nil {
				lg.Warn("dsbinder :: deployment event", zap.Stringer("event", e), zap.Error(err))
				return
			}
			lg.Info("dsbinder :: deployment event", zap.Stringer("event", e))
		}))
	defer func() {
		if err := deployer.Close(); err != nil {
			lg.Error("dsbinder :: undeploy", zap.Error(err))
		}
	}()

	for _, file := range cfg.Deployments {
		// a broken deployment is reported and redeployed once fixed on disk
		if err := deployer.Deploy(file); err != nil {
			lg.Error("dsbinder :: deploy", zap.String("file", file), zap.Error(err))
		}
	}

	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	lg.Info("dsbinder :: shutting down", zap.String("signal", s.String()), zap.Strings("bound", registry.Bound()))
	return nil
}
