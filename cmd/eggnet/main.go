// Eggnet — CLI entry point.
//
// This tool runs one endpoint of the reliable-UDP transport: a server that
// admits connections and answers clock-sync requests, or a client that
// connects, keeps the link alive with pings, and continuously synchronizes
// its clock against the server.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -addr, -connect, -metrics, -debug).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/eggine/eggnet/internal/config"
	"github.com/eggine/eggnet/internal/metrics"
	"github.com/eggine/eggnet/internal/protocol"
	"github.com/eggine/eggnet/internal/transport"
	"github.com/eggine/eggnet/internal/util"
)

var version = "dev"

// buildVersion is the protocol-level version carried in handshakes.
var buildVersion = protocol.Version{Branch: "main", Major: 0, Minor: 1, Revision: 0}

// pingInterval is how often a client pings the server to keep the
// connection's time-to-live fresh.
const pingInterval = 15 * time.Second

// syncReportInterval is how often a client logs its clock-sync estimate.
const syncReportInterval = 10 * time.Second

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	role := flag.String("role", "", "Role: server or client")
	addr := flag.String("addr", "", "Server: UDP address to bind; client: local bind address (default ephemeral)")
	connect := flag.String("connect", "", "Server address to connect to (client only)")
	metricsAddr := flag.String("metrics", "", "Expose Prometheus metrics on this address (optional)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Eggnet — v%s", version))
	pterm.Println()

	cfg := config.Config{
		Role:        config.Role(*role),
		BindAddr:    *addr,
		ConnectAddr: *connect,
		MetricsAddr: *metricsAddr,
		Tick:        transport.TickInterval,
		Debug:       *debugMode,
	}

	switch cfg.Role {
	case "":
		// No -role flag → interactive mode.
		runInteractive(ctx, cfg)

	case config.RoleServer:
		if cfg.BindAddr == "" {
			util.LogError("missing -addr for server role")
			os.Exit(1)
		}
		runServer(ctx, cfg)

	case config.RoleClient:
		if cfg.ConnectAddr == "" {
			util.LogError("missing -connect for client role")
			os.Exit(1)
		}
		if cfg.BindAddr == "" {
			cfg.BindAddr = "[::]:0"
		}
		runClient(ctx, cfg)

	default:
		util.LogError("invalid -role: must be 'server' or 'client'")
		os.Exit(1)
	}

	util.LogInfo("shut down cleanly")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -role flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Accept connections", "Client — Connect to a server"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		cfg.BindAddr = askAddr("UDP address to bind (e.g. :7777)")
		runServer(ctx, cfg)
	} else {
		cfg.Role = config.RoleClient
		cfg.BindAddr = "[::]:0"
		cfg.ConnectAddr = askAddr("Server address (e.g. example.org:7777)")
		runClient(ctx, cfg)
	}
}

// runServer drives the server tick loop until interrupted or a fatal error.
func runServer(ctx context.Context, cfg config.Config) {
	startMetrics(ctx, cfg.MetricsAddr)

	srv, err := transport.NewServer(cfg.BindAddr, buildVersion)
	if err != nil {
		util.LogError("failed to start server: %v", err)
		os.Exit(1)
	}
	defer srv.Close()

	// Echo application payloads back to the sender so a client has traffic to
	// observe.
	srv.OnData(func(addr *net.UDPAddr, data []byte) {
		util.LogDebug("data from %v: %d bytes", addr, len(data))
		if err := srv.SendData(addr, data); err != nil {
			util.LogWarning("echo to %v: %v", addr, err)
		}
	})
	srv.OnLoss(func(addr *net.UDPAddr, acked, dropped []uint32) {
		if len(dropped) > 0 {
			util.LogDebug("%v lost %d of our packets", addr, len(dropped))
		}
	})

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := srv.Tick(); err != nil {
				util.LogError("server tick: %v", err)
				os.Exit(1)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runClient connects, keeps the link alive with periodic pings, and logs the
// clock-sync estimate as it converges.
func runClient(ctx context.Context, cfg config.Config) {
	startMetrics(ctx, cfg.MetricsAddr)

	client := transport.NewClient(cfg.BindAddr, buildVersion)
	if err := client.InitializeConnection(cfg.ConnectAddr); err != nil {
		util.LogError("failed to connect: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	client.OnData(func(data []byte) {
		util.LogDebug("data from server: %d bytes", len(data))
	})
	client.OnLoss(func(acked, dropped []uint32) {
		if len(dropped) > 0 {
			util.LogDebug("server lost %d of our packets", len(dropped))
		}
	})

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()
	syncReports := time.NewTicker(syncReportInterval)
	defer syncReports.Stop()

	for {
		select {
		case <-ticker.C:
			if err := client.Tick(); err != nil {
				util.LogError("client tick: %v", err)
				os.Exit(1)
			}

		case <-pings.C:
			client.Ping()

		case <-syncReports.C:
			reportSync(client)

		case <-ctx.Done():
			client.Disconnect()
			// One last tick flushes the disconnect notice.
			if err := client.Tick(); err != nil {
				util.LogDebug("final tick: %v", err)
			}
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// startMetrics launches the Prometheus endpoint and the periodic traffic
// reporter.
func startMetrics(ctx context.Context, addr string) {
	metrics.StartReporter(ctx)
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(addr); err != nil {
			util.LogWarning("metrics endpoint: %v", err)
		}
	}()
}

// reportSync logs the current clock-sync estimate, if one exists yet.
func reportSync(client *transport.Client) {
	register := client.SyncRegister()
	if register == nil {
		return
	}
	best, ok := register.Best()
	if !ok {
		return
	}
	jitter, _ := register.Jitter()
	distance, _ := register.SynchronizationDistance()
	util.LogInfo(
		"clock offset %.1fµs (delay %dµs, jitter %.1f, distance %.1fµs)",
		best.Offset(), best.Delay(), jitter, distance,
	)
}

// askAddr prompts for a non-empty host:port address.
func askAddr(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		addr := strings.TrimSpace(raw)
		if _, _, err := net.SplitHostPort(addr); err == nil {
			pterm.Println()
			return addr
		}

		util.LogWarning("invalid address: must be host:port")
		pterm.Println()
	}
}
