package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/barcode.scanner/internal/api"
	"github.com/banshee-data/barcode.scanner/internal/config"
	"github.com/banshee-data/barcode.scanner/internal/db"
	"github.com/banshee-data/barcode.scanner/internal/metrics"
	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/publish"
	"github.com/banshee-data/barcode.scanner/internal/serialmux"
	"github.com/banshee-data/barcode.scanner/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to a JSON config file (see config/scanner.defaults.json)")
	port           = flag.String("port", "", "Serial port to use (ignored in dev mode); overrides config")
	listen         = flag.String("listen", "", "HTTP listen address; overrides config")
	dbPath         = flag.String("db", "", "SQLite database path; overrides config")
	mqttBroker     = flag.String("mqtt", "", "MQTT broker URL for publishing scans; overrides config")
	devMode        = flag.Bool("dev", false, "Run with a simulated scanner that emits fixture barcodes")
	disableScanner = flag.Bool("disable-scanner", false, "Serve the API without a scanner attached")
	verbose        = flag.Bool("verbose", false, "Log protocol traces")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// devBarcodes are emitted by the simulated scanner in -dev mode.
var devBarcodes = []string{
	"4006381333931",
	"https://example.com/item/42",
	"9780201633610",
}

const devScanInterval = 3 * time.Second

// initTimeout bounds the startup probe plus settings.
const initTimeout = 30 * time.Second

// overrideConfig applies non-empty flag values on top of cfg.
func overrideConfig(cfg *config.ScannerConfig, port, listen, dbPath, mqttBroker string) {
	if port != "" {
		cfg.Port = &port
	}
	if listen != "" {
		cfg.Listen = &listen
	}
	if dbPath != "" {
		cfg.DBPath = &dbPath
	}
	if mqttBroker != "" {
		cfg.MQTTBroker = &mqttBroker
	}
}

func loadConfig() (*config.ScannerConfig, error) {
	cfg := config.EmptyScannerConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			return nil, err
		}
	}
	overrideConfig(cfg, *port, *listen, *dbPath, *mqttBroker)
	return cfg, nil
}

// newSerialMux picks the scanner backend: none, simulated or the real port.
func newSerialMux(cfg *config.ScannerConfig, mc serialmux.Config, dev, disabled bool) (serialmux.SerialMuxInterface, error) {
	switch {
	case disabled:
		log.Printf("scanner disabled; serving API only")
		return serialmux.NewDisabledSerialMux(), nil
	case dev:
		return serialmux.NewMockSerialMux(devBarcodes, devScanInterval, mc), nil
	}
	m, err := serialmux.NewRealSerialMux(cfg.GetPort(), cfg.PortOptions(), mc)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// consumeScans stores and publishes every scan from m until ctx is done or
// the subscription closes.
func consumeScans(ctx context.Context, m serialmux.SerialMuxInterface, d *db.DB, pub publish.Publisher) {
	id, c := m.Subscribe()
	defer m.Unsubscribe(id)
	for {
		select {
		case scan, ok := <-c:
			if !ok {
				log.Printf("scan subscription closed")
				return
			}
			if err := serialmux.HandleScan(d, pub, scan); err != nil {
				log.Printf("error handling scan: %v", err)
			}
		case <-ctx.Done():
			log.Printf("subscribe routine terminated")
			return
		}
	}
}

// newHandler mounts the API, admin routes and /metrics.
func newHandler(m serialmux.SerialMuxInterface, d *db.DB, reg *prometheus.Registry) http.Handler {
	mux := api.NewServer(m, d, metrics.Handler(reg)).ServeMux()
	m.AttachAdminRoutes(mux)
	d.AttachAdminRoutes(mux)
	return api.LoggingMiddleware(mux)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("scanner", version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	if flag.NArg() > 0 {
		log.Fatalf("unknown command %q", flag.Arg(0))
	}

	d, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer d.Close()

	reg := metrics.NewRegistry()
	mc := cfg.MuxConfig()
	mc.Metrics = metrics.NewScannerMetrics(reg)
	mc.Session.OnHandshake = serialmux.CommandRecorder(d, nil)

	m, err := newSerialMux(cfg, mc, *devMode, *disableScanner)
	if err != nil {
		log.Fatalf("failed to open scanner: %v", err)
	}
	defer m.Close()

	var pub publish.Publisher
	if broker := cfg.GetMQTTBroker(); broker != "" {
		p, err := publish.NewMQTTPublisher(broker, cfg.GetMQTTTopic())
		if err != nil {
			log.Fatalf("failed to connect to mqtt broker: %v", err)
		}
		defer p.Close()
		pub = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	if err := m.Initialize(initCtx, cfg.Settings); err != nil {
		// keep serving: /status probes again and commands retry the port
		log.Printf("failed to initialize scanner: %v", err)
	} else {
		log.Printf("initialized scanner with %d settings", len(cfg.Settings))
	}
	cancel()

	// Create a wait group for the HTTP server, scan monitor, and scan handler routines
	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeScans(ctx, m, d, pub)
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: newHandler(m, d, reg),
		}

		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
