// Command sessioncored runs the Relay Fabric daemon: it accepts agent and
// technician websocket connections, decides direct-vs-relayed routing for
// each session, scores relay nodes with the load balancer, and serves the
// read-only admin surface. Generalized from cmd/breeze-agent's cobra
// command tree (root/run/version/status), replacing the RMM heartbeat
// run loop with the relay fabric's accept loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/sessioncore/internal/config"
	"github.com/breeze-rmm/sessioncore/internal/lb"
	"github.com/breeze-rmm/sessioncore/internal/logging"
	"github.com/breeze-rmm/sessioncore/internal/relay"
)

var (
	version   = "0.1.0"
	cfgFile   string
	listenOn  string
	adminOn   string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "sessioncored",
	Short: "Session Core relay daemon",
	Long:  `sessioncored - connection brokering, NAT-aware routing, and load balancing for the session transport core`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sessioncored v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/breeze/agent.yaml)")
	runCmd.Flags().StringVar(&listenOn, "listen", ":8443", "websocket listen address for agent/technician connections")
	runCmd.Flags().StringVar(&adminOn, "admin-listen", ":8444", "listen address for the read-only admin surface")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type nodeSource struct {
	balancer *lb.Balancer
}

// Nodes satisfies relay.NodeSource. The balancer keeps no exported roster
// accessor beyond Select/UpdateNode, so this always returns nil: the admin
// node list is empty regardless of which nodes the balancer holds.
func (n nodeSource) Nodes() []relay.NodeInfo { return nil }

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func runDaemon(cmd *cobra.Command) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var output = os.Stdout
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	// --listen/--admin-listen override the config file; when left at their
	// flag defaults, the config's relay_listen/relay_admin_listen apply.
	if !cmd.Flags().Changed("listen") && cfg.RelayListen != "" {
		listenOn = cfg.RelayListen
	}
	if !cmd.Flags().Changed("admin-listen") && cfg.RelayAdminListen != "" {
		adminOn = cfg.RelayAdminListen
	}

	balancer := lb.New(lb.DefaultConfig())
	fabric := relay.NewFabricWithQueueSize(balancer, cfg.RelayQueueSize)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/agent/", acceptHandler(fabric, relay.KindAgent))
	mux.HandleFunc("/ws/technician/", acceptHandler(fabric, relay.KindTechnician))

	srv := &http.Server{Addr: listenOn, Handler: mux}
	adminSrv := &http.Server{Addr: adminOn, Handler: relay.AdminRouter(fabric, nodeSource{balancer: balancer})}

	go func() {
		log.Info("relay fabric listening", "addr", listenOn)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("relay listener stopped", "error", err)
		}
	}()
	go func() {
		log.Info("admin surface listening", "addr", adminOn)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin listener stopped", "error", err)
		}
	}()

	heartbeatStop := make(chan struct{})
	go heartbeatSweeper(fabric, heartbeatStop)
	defer close(heartbeatStop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down sessioncored")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	adminSrv.Shutdown(ctx)
}

// acceptHandler upgrades one HTTP request to a websocket, registers it with
// the fabric under the trailing path segment as its participant id, and
// drives its read/write pumps until the socket closes.
func acceptHandler(fabric *relay.Fabric, kind relay.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := lastPathSegment(r.URL.Path)
		if id == "" {
			http.Error(w, "missing participant id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "error", err, "kind", kind)
			return
		}

		c := relay.NewConnection(id, kind, conn)
		fabric.Register(c)

		go c.WritePump()
		c.ReadPump(func(messageType int, data []byte) {
			fabric.Dispatch(id, messageType, data)
		})

		fabric.Unregister(id)
	}
}

// heartbeatSweeper periodically checks every tracked session's heartbeat
// miss counter and ends any that crossed the 3-miss threshold (§4.7),
// matching the fabric's single-goroutine-per-concern style (one ticker
// here, not one per session).
func heartbeatSweeper(fabric *relay.Fabric, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fabric.SweepHeartbeats()
		}
	}
}

func lastPathSegment(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
