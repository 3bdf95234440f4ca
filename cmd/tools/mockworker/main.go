// Command mockworker is a stand-in worker for running the shell without
// the real node binary. It accepts the worker command line and serves the
// control service on the configured port or socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/craftstudio/craftstudio/internal/control"
	"github.com/craftstudio/craftstudio/internal/logging"
)

var Version = "dev" // Injected via ldflags during build

func main() {
	dataDir := flag.String("data-dir", "", "Instance data directory")
	controlPort := flag.Int("control-port", 0, "Loopback control port")
	socketPath := flag.String("socket", "", "Unix socket for the control service")
	listen := flag.String("listen", "", "Peer listen address (accepted, unused)")
	capabilities := flag.String("capabilities", "client", "Comma-separated capabilities")
	apiKey := flag.String("api-key", os.Getenv("CRAFTWORKER_API_KEY"), "Bearer key required on control calls")
	flag.Parse()

	logger := logging.NewWithWriter(os.Stderr, zerolog.InfoLevel).Component("mockworker")

	if *dataDir == "" {
		fmt.Fprintln(os.Stderr, "--data-dir is required")
		os.Exit(2)
	}

	address, err := controlAddress(*socketPath, *controlPort)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var keys []string
	if *apiKey != "" {
		keys = append(keys, *apiKey)
	}

	w := newWorker(uuid.NewString(), Version, *dataDir, splitCapabilities(*capabilities), logger)
	server := control.NewServer(control.ServerConfig{Address: address, APIKeys: keys}, w, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Mock worker starting",
		"node_id", w.nodeID,
		"data_dir", *dataDir,
		"control", address,
		"listen", *listen,
		"capabilities", w.capabilities,
	)
	if err := server.Run(ctx); err != nil {
		logger.Fatal("Control server failed", "error", err)
	}
	logger.Info("Mock worker exited")
}

func controlAddress(socketPath string, port int) (string, error) {
	if socketPath != "" {
		return "unix://" + socketPath, nil
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("--control-port or --socket is required")
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), nil
}

func splitCapabilities(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
