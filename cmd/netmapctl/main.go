// Command netmapctl is a one-shot inspection tool for a passthrough
// daemon's configuration: without a running daemon to address over RPC,
// it brings up the sessions named in a config file itself, performs the
// requested query against them, and tears them back down before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/borislavmatvey/netmap/common/logging"
	"github.com/borislavmatvey/netmap/common/xiter"
	"github.com/borislavmatvey/netmap/internal/backend"
	"github.com/borislavmatvey/netmap/internal/control"
	"github.com/borislavmatvey/netmap/internal/daemon"
	"github.com/borislavmatvey/netmap/internal/ptnetmap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "netmapctl",
	Short: "Inspect a passthrough daemon's configured sessions",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sessions matching a name filter",
	RunE: func(c *cobra.Command, _ []string) error {
		filter, _ := c.Flags().GetString("filter")
		return withManager(configPath, func(m *control.Manager) error {
			names, err := m.List(filter)
			if err != nil {
				return err
			}
			for i, name := range xiter.Enumerate(slices.Values(names)) {
				fmt.Printf("%d. %s\n", i+1, name)
			}
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print telemetry counters for a named session",
	RunE: func(c *cobra.Command, _ []string) error {
		name, _ := c.Flags().GetString("session")
		return withManager(configPath, func(m *control.Manager) error {
			snap, err := m.Stats(name)
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", snap)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the daemon configuration file (required)")
	_ = rootCmd.MarkPersistentFlagRequired("config")

	listCmd.Flags().String("filter", "*", "Glob pattern to filter session names")
	statsCmd.Flags().String("session", "", "Session name to report")
	_ = statsCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(listCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

// withManager loads cfg, brings up every configured session against a
// manager, runs fn against it, and destroys every session again
// regardless of fn's outcome.
func withManager(path string, fn func(*control.Manager) error) error {
	cfg, err := daemon.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Sync()

	slotsByAdapter := make(map[string][2]uint32, len(cfg.Sessions))
	for _, s := range cfg.Sessions {
		slotsByAdapter[s.AdapterName] = [2]uint32{s.TX.NumSlots, s.RX.NumSlots}
	}
	newBackend := func(adapterName string) (ptnetmap.Backend, error) {
		slots := slotsByAdapter[adapterName]
		return backend.NewNetlinkAdapter(adapterName, slots[0], slots[1])
	}

	manager := control.NewManager(newBackend, log)
	ctx := context.Background()
	for _, sessionCfg := range cfg.Sessions {
		if err := manager.Create(ctx, sessionCfg); err != nil {
			return fmt.Errorf("create session %q: %w", sessionCfg.Name, err)
		}
	}
	defer manager.Close()

	return fn(manager)
}
