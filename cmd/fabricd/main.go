package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/bus"
	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/handleapi"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/model"
	"github.com/cuemby/fabric/pkg/monstore"
	"github.com/cuemby/fabric/pkg/procctx"
	"github.com/cuemby/fabric/pkg/pub"
	"github.com/cuemby/fabric/pkg/registry"
	"github.com/cuemby/fabric/pkg/sub"
	"github.com/cuemby/fabric/pkg/svcserver"
	"github.com/cuemby/fabric/pkg/transport/udp"
)

var (
	// Version and Commit are set via -ldflags at build time.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fabricd",
	Short: "fabricd runs a pub/sub and RPC middleware process",
	Long: `fabricd hosts one process's registration layer, transport
stack, and service endpoints, and exposes the demo monitoring and
publish/subscribe loop this binary is built around.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fabricd version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("process-name", "fabricd", "Process name announced to the registration layer")
	rootCmd.PersistentFlags().String("host-group", "", "Host group name for SHM transport eligibility")
	rootCmd.PersistentFlags().Bool("disable-udp", false, "Disable the UDP registration and sample transport")
	rootCmd.PersistentFlags().Bool("disable-shm", false, "Disable the shared-memory transport")
	rootCmd.PersistentFlags().String("data-dir", "./fabricd-data", "Directory for the monitoring store (bbolt)")
	rootCmd.PersistentFlags().String("health-addr", "127.0.0.1:9090", "Address for the /health, /ready and /metrics HTTP endpoints")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pubCmd)
	rootCmd.AddCommand(subCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOut,
	})
}

// buildConfig applies the persistent flags on top of config.Default.
func buildConfig(cmd *cobra.Command) config.Config {
	cfg := config.Default()

	hostGroup, _ := cmd.Flags().GetString("host-group")
	cfg.Registration.HostGroupName = hostGroup

	if disableUDP, _ := cmd.Flags().GetBool("disable-udp"); disableUDP {
		cfg.Registration.LayerUDPEnable = false
	}
	if disableSHM, _ := cmd.Flags().GetBool("disable-shm"); disableSHM {
		cfg.Registration.LayerSHMEnable = false
	}
	return cfg
}

// noopSender satisfies registry.Sender for a process running with the UDP
// layer disabled: its announcements never leave the process, but
// procctx.Initialize still needs a non-nil Sender to construct a Registry.
type noopSender struct{}

func (noopSender) SendAnnouncement(a *bus.Announcement) error { return nil }

// bootstrap holds everything a subcommand needs to build publishers,
// subscribers, or service endpoints against one initialized process.
type bootstrap struct {
	ctx       *procctx.Context
	cfg       config.Config
	store     *monstore.BoltStore
	udpTrans  *udp.Transport
	healthSrv *svcserver.HealthServer
	pubTrans  pub.Transports
	subTrans  sub.Transports
}

func bootstrapProcess(cmd *cobra.Command) (*bootstrap, error) {
	cfg := buildConfig(cmd)
	processName, _ := cmd.Flags().GetString("process-name")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	hostName, err := os.Hostname()
	if err != nil {
		hostName = "localhost"
	}

	store, err := monstore.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open monitoring store: %w", err)
	}

	var udpTrans *udp.Transport
	var sender registry.Sender = noopSender{}
	if cfg.Registration.LayerUDPEnable {
		udpTrans, err = udp.Open(cfg.TransportLayer.UDP)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open udp transport: %w", err)
		}
		udpTrans.Start()
		sender = udpTrans
	}

	pctx, err := procctx.Initialize(hostName, processName, cfg, sender, store)
	if err != nil {
		if udpTrans != nil {
			_ = udpTrans.Close()
		}
		_ = store.Close()
		return nil, fmt.Errorf("initialize process context: %w", err)
	}

	healthSrv := svcserver.NewHealthServer(pctx.Registry)
	if mux, ok := healthSrv.GetHandler().(*http.ServeMux); ok {
		// Component-level health, distinct from /health and /ready: these
		// reflect procctx.Initialize's registration/monitoring bring-up.
		mux.Handle("/healthz/components", metrics.HealthHandler())
		mux.Handle("/healthz/ready", metrics.ReadyHandler())
		mux.Handle("/healthz/live", metrics.LivenessHandler())
	}
	healthAddr, _ := cmd.Flags().GetString("health-addr")
	go func() {
		if err := healthSrv.Start(healthAddr); err != nil && err != http.ErrServerClosed {
			log.Errorf("health server stopped", err)
		}
	}()
	log.Info(fmt.Sprintf("health endpoints listening on %s", healthAddr))

	shmDir := ""
	if cfg.Registration.LayerSHMEnable {
		shmDir = dataDir + "/shm"
	}

	b := &bootstrap{
		ctx:       pctx,
		cfg:       cfg,
		store:     store,
		udpTrans:  udpTrans,
		healthSrv: healthSrv,
		pubTrans:  pub.Transports{SHMDir: shmDir, UDP: udpTrans},
		subTrans:  sub.Transports{SHMDir: shmDir, UDP: udpTrans},
	}
	return b, nil
}

func (b *bootstrap) shutdown() {
	if b.udpTrans != nil {
		_ = b.udpTrans.Close()
	}
	if err := procctx.Finalize(); err != nil {
		log.Errorf("finalize process context", err)
	}
	if err := b.store.Close(); err != nil {
		log.Errorf("close monitoring store", err)
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a bare fabricd process with registration, monitoring and service endpoints only",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bootstrapProcess(cmd)
		if err != nil {
			return err
		}
		defer b.shutdown()

		fmt.Printf("fabricd running as %s (process %s)\n", b.ctx.HostName, b.ctx.ProcessID)
		fmt.Println("Press Ctrl+C to stop.")
		waitForSignal()
		fmt.Println("Shutting down...")
		return nil
	},
}

var pubCmd = &cobra.Command{
	Use:   "pub TOPIC MESSAGE",
	Short: "Publish one message to a topic and exit",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bootstrapProcess(cmd)
		if err != nil {
			return err
		}
		defer b.shutdown()

		api := handleapi.New(b.ctx.ShutdownContext(), b.ctx.HostName, b.ctx.ProcessID, b.cfg, b.ctx.Registry, b.pubTrans, b.subTrans)
		h, rc := api.PubCreate(args[0], model.DataTypeInfo{Name: "bytes"})
		if rc != 0 {
			return fmt.Errorf("pub_create failed: code %d", rc)
		}
		defer api.PubDestroy(h)

		// Give the registration layer one refresh cycle to announce the
		// topic before a subscriber elsewhere can match it.
		time.Sleep(1200 * time.Millisecond)

		if rc := api.PubSend(h, []byte(args[1])); rc != 0 {
			return fmt.Errorf("pub_send failed: code %d", rc)
		}
		fmt.Printf("published %d bytes to %q\n", len(args[1]), args[0])
		return nil
	},
}

var subCmd = &cobra.Command{
	Use:   "sub TOPIC",
	Short: "Subscribe to a topic and print samples until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := bootstrapProcess(cmd)
		if err != nil {
			return err
		}
		defer b.shutdown()

		api := handleapi.New(b.ctx.ShutdownContext(), b.ctx.HostName, b.ctx.ProcessID, b.cfg, b.ctx.Registry, b.pubTrans, b.subTrans)
		h, rc := api.SubCreate(args[0], model.DataTypeInfo{Name: "bytes"})
		if rc != 0 {
			return fmt.Errorf("sub_create failed: code %d", rc)
		}
		defer api.SubDestroy(h)

		rc = api.SubSetCallback(h, func(s *model.SampleEnvelope) {
			fmt.Printf("[%s] %s\n", args[0], string(s.Payload))
		})
		if rc != 0 {
			return fmt.Errorf("sub_set_callback failed: code %d", rc)
		}

		fmt.Printf("subscribed to %q, press Ctrl+C to stop\n", args[0])
		waitForSignal()
		return nil
	},
}
