// Command netviz connects to a CNN activation producer, builds the 3D scene
// it describes, and serves the scene state on a local debug endpoint.
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

	"github.com/google/uuid"

	"github.com/banshee-data/netviz/internal/capture"
	"github.com/banshee-data/netviz/internal/config"
	"github.com/banshee-data/netviz/internal/monitor"
	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/scheduler"
	"github.com/banshee-data/netviz/internal/session"
	"github.com/banshee-data/netviz/internal/statusrpc"
	"github.com/banshee-data/netviz/internal/transport"
	"github.com/banshee-data/netviz/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a JSON config file (defaults apply when empty)")
	host        = flag.String("host", "", "Producer host (overrides config)")
	port        = flag.Int("port", 0, "Producer port (overrides config)")
	serialPort  = flag.String("serial", "", "Read frames from a serial device instead of TCP")
	capturePath = flag.String("capture", "", "Record raw frames to this SQLite file")
	debugListen = flag.String("debug-listen", "", "Debug HTTP listen address (overrides config)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC health listen address (overrides config)")
	debugLog    = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debugLog)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("netviz: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// applyFlags overlays explicitly set command line values on cfg.
func applyFlags(cfg *config.Config) {
	if *host != "" {
		cfg.Host = host
	}
	if *port != 0 {
		cfg.Port = port
	}
	if *serialPort != "" {
		cfg.SerialPort = serialPort
	}
	if *capturePath != "" {
		cfg.CapturePath = capturePath
	}
	if *debugListen != "" {
		cfg.DebugListen = debugListen
	}
	if *grpcListen != "" {
		cfg.GRPCListen = grpcListen
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	sc := cfg.SessionConfig()
	sc.ID = uuid.NewString()
	sc.Explanations = scheduler.ExplanationFunc(func(title, text string) {
		log.Printf("[explanation] %s: %s", title, text)
	})

	var status *statusrpc.Server
	if addr := cfg.GetGRPCListen(); addr != "" {
		status = statusrpc.New(addr)
		if err := status.Start(); err != nil {
			return err
		}
		defer status.Stop()
		sc.OnState = status.SetState
	}

	var store *capture.Store
	if path := cfg.GetCapturePath(); path != "" {
		var err error
		store, err = capture.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open capture database: %w", err)
		}
		defer store.Close()

		rec, err := capture.NewRecorder(store, sc.ID, producerAddr(cfg))
		if err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Printf("capture close: %v", err)
			}
			log.Printf("captured %d frames to %s", rec.Count(), path)
		}()
		sc.Tap = rec
	}

	sess := session.New(sc)
	defer sess.Shutdown()
	log.Printf("session %s starting (%s)", sess.ID(), version.String())

	if err := connect(sess, cfg); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range sess.Events() {
			if ev.Err != nil {
				log.Printf("session %s: %s: %v", sess.ID(), ev.Kind, ev.Err)
			} else {
				log.Printf("session %s: %s", sess.ID(), ev.Kind)
			}
		}
	}()

	var server *http.Server
	if addr := cfg.GetDebugListen(); addr != "" {
		mux := http.NewServeMux()
		monitor.New(sess).AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		server = &http.Server{Addr: addr, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server: %v", err)
			}
		}()
		log.Printf("debug endpoints on http://%s/debug/", addr)
	}

	err := sess.Run(ctx, cfg.GetTickInterval())
	log.Printf("shutting down session %s", sess.ID())
	sess.Shutdown() // closes Events, ending the logger goroutine

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func connect(sess *session.Session, cfg *config.Config) error {
	if path := cfg.GetSerialPort(); path != "" {
		conn, err := transport.OpenSerial(path, transport.PortOptions{BaudRate: cfg.GetSerialBaud()})
		if err != nil {
			return err
		}
		log.Printf("reading frames from serial port %s", path)
		return sess.Attach(conn)
	}
	log.Printf("connecting to producer at %s", producerAddr(cfg))
	return sess.StartConnecting(cfg.GetHost(), cfg.GetPort())
}

func producerAddr(cfg *config.Config) string {
	if path := cfg.GetSerialPort(); path != "" {
		return "serial:" + path
	}
	return fmt.Sprintf("%s:%d", cfg.GetHost(), cfg.GetPort())
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
