// exitwatch prints every process that exits on the machine. It must run
// elevated.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tekert/procexit/etw"
	"github.com/tekert/procexit/procexit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		generateConfig string
		sessionName    string
		metricsAddr    string
		jsonOutput     bool
		diagnostics    bool
		help           bool
	)

	flag.StringVar(&configPath, "config", "", "Path to a TOML configuration file (optional).")
	flag.StringVar(&generateConfig, "generate-config", "", "Write the default configuration to this path and exit.")
	flag.StringVar(&sessionName, "name", "", "Session name, overrides the configuration (default \"NT Kernel Logger\").")
	flag.StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address (e.g. 'localhost:9190').")
	flag.BoolVar(&jsonOutput, "json", false, "Print one JSON object per exit.")
	flag.BoolVar(&diagnostics, "diag", false, "Print process records that did not produce an exit, with a hex dump.")
	flag.BoolVar(&help, "help", false, "Show this help message.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Prints every process that exits on this machine, using the kernel process events.")
		fmt.Fprintln(os.Stderr, "Requires an elevated prompt.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nExamples:")
		fmt.Fprintln(os.Stderr, "  exitwatch")
		fmt.Fprintln(os.Stderr, "  exitwatch -json -metrics localhost:9190")
		fmt.Fprintln(os.Stderr, "  exitwatch -name procexit-session -diag")
		fmt.Fprintln(os.Stderr, "  exitwatch -generate-config procexit.toml")
	}
	flag.Parse()

	if help {
		flag.Usage()
		return nil
	}
	if generateConfig != "" {
		if err := procexit.SaveConfig(generateConfig, procexit.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", generateConfig)
		return nil
	}

	cfg, err := procexit.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if sessionName != "" {
		cfg.Session.Name = sessionName
	}
	if diagnostics {
		cfg.Diagnostics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := procexit.ConfigureLogging(cfg.Logging); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := procexit.NewMonitor(cfg)
	unsubscribe := m.Subscribe(printer(jsonOutput))
	defer unsubscribe()
	if cfg.Diagnostics.Enabled {
		m.Diagnostics(printDiagnostic)
	}

	if metricsAddr != "" {
		srv, err := serveMetrics(metricsAddr, m)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	if err := m.Start(); err != nil {
		if errors.Is(err, etw.ERROR_ACCESS_DENIED) {
			return fmt.Errorf("%w (run from an elevated prompt)", err)
		}
		return err
	}
	defer m.Stop()

	fmt.Fprintf(os.Stderr, "Watching process exits on session %q. Press Ctrl+C to stop.\n", cfg.Session.Name)
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nSignal received, shutting down...")
	case <-m.Done():
		fmt.Fprintln(os.Stderr, "\nTrace ended (session stopped from outside?)")
	}

	m.Stop()
	printStats(m.Stats())
	if err := m.Err(); err != nil {
		return fmt.Errorf("trace processing failed: %w", err)
	}
	return nil
}

func printer(jsonOutput bool) procexit.Subscriber {
	if jsonOutput {
		buf := make([]byte, 0, 256)
		return func(e procexit.DecodedExit) {
			var err error
			if buf, err = e.AppendJSON(buf[:0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling exit: %v\n", err)
				return
			}
			buf = append(buf, '\n')
			os.Stdout.Write(buf)
		}
	}
	return func(e procexit.DecodedExit) {
		fmt.Printf("%s  pid=%-6d ppid=%-6d status=0x%08X  %s\n",
			e.Timestamp.Format("15:04:05.000"), e.PID, e.ParentPID, e.ExitStatus, e.ImageName)
	}
}

func printDiagnostic(d procexit.Diagnostic) {
	b, err := json.Marshal(struct {
		Kind       string `json:"kind"`
		Opcode     string `json:"opcode"`
		Version    uint8  `json:"version"`
		PID        uint32 `json:"pid,omitempty"`
		PayloadLen int    `json:"payload_len"`
		Reason     string `json:"reason,omitempty"`
	}{d.Kind.String(), d.OpcodeName, d.Version, d.PID, d.PayloadLen, d.Reason})
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stderr, "[DIAG] %s\n%s", b, d.Hex)
}

func serveMetrics(addr string, m *procexit.Monitor) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(procexit.NewStatsCollector(m)); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server failed: %v\n", err)
		}
	}()
	fmt.Fprintf(os.Stderr, "Serving metrics on http://%s/metrics\n", addr)
	return srv, nil
}

func printStats(st procexit.Stats) {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "\n--- Statistics ---")
	fmt.Fprintf(w, "Pointer width:\t%d\n", st.PointerWidth)
	fmt.Fprintf(w, "Records received:\t%d\n", st.RecordsReceived)
	fmt.Fprintf(w, "Exits decoded:\t%d\n", st.ExitsDecoded)
	fmt.Fprintf(w, "Unknown version exits:\t%d\n", st.UnknownVersion)
	fmt.Fprintf(w, "Real-time lost notifications:\t%d\n", st.RealTimeLost)
	fmt.Fprintf(w, "Buffers read:\t%d\n", st.BuffersRead)
	fmt.Fprintf(w, "Record errors:\t%d\n", st.ConsumerErrors)
	fmt.Fprintf(w, "Subscriber panics:\t%d\n", st.SubscriberPanics)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, reason := range procexit.Reasons {
		fmt.Fprintf(w, "Rejected %s:\t%d\n", reason, st.Rejected[reason])
	}
}
