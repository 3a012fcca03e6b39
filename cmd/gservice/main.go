package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/infraguys/genesis-compute/pkg/agent"
	"github.com/infraguys/genesis-compute/pkg/boot"
	"github.com/infraguys/genesis-compute/pkg/bootapi"
	"github.com/infraguys/genesis-compute/pkg/builder/lb"
	"github.com/infraguys/genesis-compute/pkg/builder/node"
	"github.com/infraguys/genesis-compute/pkg/builder/nodeset"
	"github.com/infraguys/genesis-compute/pkg/builder/pool"
	"github.com/infraguys/genesis-compute/pkg/builder/volume"
	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/metrics"
	"github.com/infraguys/genesis-compute/pkg/reconciler"
	"github.com/infraguys/genesis-compute/pkg/scheduler"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

var (
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
	Use:     "gservice",
	Short:   "genesis-compute service: scheduler, builders, pool agents and the boot API",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("data-dir", "./genesis-compute-data", "BoltDB data directory")
	runCmd.Flags().String("builder-id", "", "Pool builder identity; the builder reconciles only pools assigned to this ID, and it is not registered as a Builder row for scheduler admission (random UUID if empty)")
	runCmd.Flags().String("boot-addr", "127.0.0.1:8090", "Address for the boot/registration HTTP API")
	runCmd.Flags().String("tftp-host", "127.0.0.1", "Host iPXE scripts point at for the TFTP kernel/initrd")
	runCmd.Flags().Duration("reconcile-interval", time.Second, "Reconciliation engine tick interval")
	runCmd.Flags().Duration("agent-interval", 2*time.Second, "Pool agent tick interval")
	runCmd.Flags().Duration("agent-poll-interval", 5*time.Second, "How often to look for newly admitted pools needing an agent")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, every builder, the pool agent supervisor and the boot API",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		builderID, _ := cmd.Flags().GetString("builder-id")
		bootAddr, _ := cmd.Flags().GetString("boot-addr")
		tftpHost, _ := cmd.Flags().GetString("tftp-host")
		reconcileInterval, _ := cmd.Flags().GetDuration("reconcile-interval")
		agentInterval, _ := cmd.Flags().GetDuration("agent-interval")
		agentPollInterval, _ := cmd.Flags().GetDuration("agent-poll-interval")

		if builderID == "" {
			builderID = uuid.NewString()
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		logger := log.WithComponent("gservice")
		logger.Info().Str("builder", builderID).Str("data_dir", dataDir).Msg("starting genesis-compute")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("scheduler", false, "starting")
		metrics.RegisterComponent("api", false, "starting")

		// Reconciliation engine, one Hooks per builder kind, run in this
		// order every tick; none of these builders declares DependsOn, so
		// the order gates no creation.
		poolBuilder := pool.New(builderID, store)
		nodeBuilder := node.New(store)
		volumeBuilder := volume.New(store)
		nodesetBuilder := nodeset.New(store)
		lbBuilder := lb.New(store)

		engine := reconciler.NewEngine(store, reconcileInterval,
			poolBuilder, nodeBuilder, volumeBuilder, nodesetBuilder, lbBuilder)
		engine.Start()
		defer engine.Stop()

		sched := scheduler.NewScheduler(store)
		sched.Start()
		defer sched.Stop()
		metrics.RegisterComponent("scheduler", true, "ready")

		metricsCollector := metrics.NewCollector(store)
		metricsCollector.Start()
		defer metricsCollector.Stop()

		supervisor := newPoolAgentSupervisor(store, agentInterval)
		supervisor.Start(agentPollInterval)
		defer supervisor.Stop()

		bootCfg := boot.DefaultConfig(tftpHost, fmt.Sprintf("http://%s", bootAddr))
		bootServer := bootapi.NewServer(store, bootCfg)
		errCh := make(chan error, 1)
		go func() {
			if err := bootServer.Start(bootAddr); err != nil {
				errCh <- fmt.Errorf("boot API server error: %w", err)
			}
		}()
		logger.Info().Str("addr", bootAddr).Msg("boot API listening")
		metrics.RegisterComponent("api", true, "ready")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("fatal server error")
		}

		return nil
	},
}

// poolAgentSupervisor keeps one running agent.Agent per ACTIVE MachinePool
// in the store, whichever builder the pool is assigned to, starting one the
// first time it observes such a pool and stopping it once the pool is
// deleted or leaves the ACTIVE status.
type poolAgentSupervisor struct {
	store    storage.Store
	interval time.Duration

	mu     sync.Mutex
	agents map[string]*agent.Agent
	stopCh chan struct{}
}

func newPoolAgentSupervisor(store storage.Store, agentInterval time.Duration) *poolAgentSupervisor {
	return &poolAgentSupervisor{
		store:    store,
		interval: agentInterval,
		agents:   make(map[string]*agent.Agent),
		stopCh:   make(chan struct{}),
	}
}

func (s *poolAgentSupervisor) Start(pollInterval time.Duration) { go s.run(pollInterval) }

func (s *poolAgentSupervisor) Stop() {
	close(s.stopCh)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		a.Stop()
	}
}

func (s *poolAgentSupervisor) run(pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconcileAgents()
		case <-s.stopCh:
			return
		}
	}
}

func (s *poolAgentSupervisor) reconcileAgents() {
	pools, err := s.store.ListMachinePools()
	if err != nil {
		log.WithComponent("pool-agent-supervisor").Error().Err(err).Msg("failed to list machine pools")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(pools))
	for _, p := range pools {
		if p.Status != types.PoolStatusActive {
			continue
		}
		seen[p.UUID] = true
		if _, running := s.agents[p.UUID]; running {
			continue
		}
		a, err := agent.New(p, s.store)
		if err != nil {
			log.WithComponent("pool-agent-supervisor").Error().Err(err).Str("pool", p.UUID).Msg("failed to start pool agent")
			continue
		}
		a.Start(s.interval)
		s.agents[p.UUID] = a
	}

	for poolUUID, a := range s.agents {
		if !seen[poolUUID] {
			a.Stop()
			delete(s.agents, poolUUID)
		}
	}
}
