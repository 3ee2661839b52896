// Command doryd is the dory daemon: it loads a config file, constructs
// every configured device against its backend, and serves both admin
// transports until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dory-project/dory/pkg/adminfile"
	"github.com/dory-project/dory/pkg/adminhttp"
	"github.com/dory-project/dory/pkg/backend"
	"github.com/dory-project/dory/pkg/daemonconfig"
	"github.com/dory-project/dory/pkg/device"
	"github.com/dory-project/dory/pkg/logging"
	"github.com/dory-project/dory/pkg/registry"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to doryd configuration file")
	)
	flag.Parse()

	cfg, err := daemonconfig.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.InitGlobalLogger(&logging.Config{
		Level:      mustParseLevel(cfg.Logging.Level),
		Format:     mustParseFormat(cfg.Logging.Format),
		Output:     os.Stdout,
		ShowCaller: false,
	})
	logger := logging.GetGlobalLogger().WithComponent("doryd")

	devices, fileDirs, err := startInstances(cfg)
	if err != nil {
		log.Fatalf("start instances: %v", err)
	}
	defer func() {
		for _, dir := range fileDirs {
			dir.Close()
		}
		for _, dev := range devices {
			registry.Deregister(dev.Name())
			dev.Close()
		}
	}()

	var httpServer *http.Server
	if cfg.AdminHTTP.Enabled {
		srv := adminhttp.NewServer()
		httpServer = &http.Server{Addr: cfg.AdminHTTP.Addr, Handler: srv.Router()}
		go func() {
			logger.Infof("admin http listening on %s", cfg.AdminHTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("admin http server failed: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}
}

// startInstances constructs every configured device and its backend,
// registers it, and opens its admin-file directory if enabled.
func startInstances(cfg *daemonconfig.Config) ([]*device.Device, []*adminfile.Directory, error) {
	var devices []*device.Device
	var fileDirs []*adminfile.Directory

	for _, inst := range cfg.Instances {
		be, err := buildBackend(inst)
		if err != nil {
			return nil, nil, fmt.Errorf("instance %s: %w", inst.Name, err)
		}

		dcfg := device.DefaultConfig()
		dcfg.Name = inst.Name
		dcfg.BackingPath = inst.BackingPath
		dcfg.BlockSize = inst.BlockSize
		dcfg.SlotCount = inst.SlotCount
		if inst.TornMask != 0 {
			dcfg.TornMask = inst.TornMask
		}
		if inst.TornModulus != 0 {
			dcfg.TornModulus = inst.TornModulus
		}

		dev, err := device.New(dcfg, be)
		if err != nil {
			return nil, nil, fmt.Errorf("instance %s: %w", inst.Name, err)
		}
		registry.Register(dev)
		devices = append(devices, dev)

		if cfg.AdminFile.Enabled {
			root := cfg.AdminFile.Root + "/" + inst.Name
			dir, err := adminfile.NewDirectory(dev, root, cfg.AdminFile.RefreshInterval())
			if err != nil {
				return nil, nil, fmt.Errorf("instance %s: admin file directory: %w", inst.Name, err)
			}
			fileDirs = append(fileDirs, dir)
		}
	}

	return devices, fileDirs, nil
}

func buildBackend(inst daemonconfig.InstanceConfig) (backend.Device, error) {
	switch inst.Backend {
	case "file":
		return backend.OpenFile(inst.BackingPath, inst.SizeBytes)
	case "memory":
		return backend.NewMemory(inst.SizeBytes)
	case "postgres":
		blockSize := inst.BlockSize
		if blockSize == 0 {
			blockSize = device.DefaultConfig().BlockSize
		}
		return backend.NewPostgres(context.Background(), &backend.PostgresConfig{
			ConnectionString: inst.PostgresConnectionString,
			MaxConnections:   inst.PostgresMaxConnections,
			ConnectTimeout:   10 * time.Second,
			SectorSize:       int32(blockSize),
			SectorCount:      inst.SizeBytes / int64(blockSize),
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", inst.Backend)
	}
}

func mustParseLevel(s string) logging.LogLevel {
	lvl, err := logging.ParseLogLevel(s)
	if err != nil {
		return logging.InfoLevel
	}
	return lvl
}

func mustParseFormat(s string) logging.LogFormat {
	if s == "json" {
		return logging.JSONFormat
	}
	return logging.TextFormat
}
