// Command ptnetmapd runs the passthrough session daemon: it loads a
// configuration file naming one or more sessions, brings each of them up
// against a real network link, and serves them until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/borislavmatvey/netmap/common/logging"
	"github.com/borislavmatvey/netmap/common/xcmd"
	"github.com/borislavmatvey/netmap/internal/backend"
	"github.com/borislavmatvey/netmap/internal/daemon"
	"github.com/borislavmatvey/netmap/internal/ptnetmap"
)

var cmd struct {
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "ptnetmapd",
	Short: "Host-side passthrough engine for paravirtualized netmap rings",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := run(cmd.ConfigPath); err != nil {
			if errors.Is(err, xcmd.Interrupted{}) {
				return nil
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	_ = rootCmd.MarkFlagRequired("config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, atomicLevel, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Sync()

	newBackend := netlinkBackendFactory(cfg.Sessions)

	engine, err := daemon.NewEngine(cfg, newBackend, daemon.WithLog(log), daemon.WithAtomicLogLevel(&atomicLevel))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return engine.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infow("caught signal", "err", err)
		return err
	})

	return wg.Wait()
}

// netlinkBackendFactory builds each session's backend by resolving its
// adapter name as a real network link, using the ring sizes configured
// for whichever session named that adapter.
func netlinkBackendFactory(sessions []ptnetmap.Config) func(string) (ptnetmap.Backend, error) {
	slotsByAdapter := make(map[string][2]uint32, len(sessions))
	for _, s := range sessions {
		slotsByAdapter[s.AdapterName] = [2]uint32{s.TX.NumSlots, s.RX.NumSlots}
	}

	return func(adapterName string) (ptnetmap.Backend, error) {
		slots, ok := slotsByAdapter[adapterName]
		if !ok {
			return nil, fmt.Errorf("no configured session names adapter %q", adapterName)
		}
		return backend.NewNetlinkAdapter(adapterName, slots[0], slots[1])
	}
}
