package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	roleCoordinator = "coordinator"
	roleLeaf        = "leaf"
)

var rootCmd = &cobra.Command{
	Use:   "xrelay",
	Short: "Distributed event relay node",
	Long: `xrelay runs one process of a relay tree. Events emitted anywhere in
the tree reach every process exactly once. Coordinators fan events out to
their children; leaves talk to a single parent.`,
	SilenceUsage: true,
}

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run a coordinator node",
	Long: `Run a coordinator node. With a parent, the coordinator also joins the
parent's tree: it hears the parent's events and sends its own upward.
--echo-up and --echo-down additionally relay between children and parent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole(cmd, roleCoordinator)
	},
}

var leafCmd = &cobra.Command{
	Use:   "leaf",
	Short: "Run a leaf node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRole(cmd, roleLeaf)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "TOML config file")
	pf.String("id", "", "process identity (default: random UUID)")
	pf.String("transport", transportRedis, "channel transport: redis or websocket")
	pf.String("codec", "json", "wire codec: json or cbor")
	pf.String("redis-addr", "", "Redis address (default 127.0.0.1:6379)")
	pf.String("parent", "", "parent process identity")
	pf.String("parent-url", "", "parent WebSocket URL")
	pf.String("emit", "", "event to emit periodically")
	pf.Duration("interval", 0, "emit interval (default 1s)")
	pf.Duration("send-timeout", 0, "per-send timeout (default 5s)")

	coordinatorCmd.Flags().StringSlice("children", nil, "child process identities (redis transport)")
	coordinatorCmd.Flags().String("listen", "", "WebSocket listen address (default :7800)")
	coordinatorCmd.Flags().Bool("echo-up", false, "forward children's events to the parent")
	coordinatorCmd.Flags().Bool("echo-down", false, "relay the parent's events to the children")

	rootCmd.AddCommand(coordinatorCmd, leafCmd)
}

// resolveConfig merges defaults, the config file and explicitly set flags,
// in that order.
func resolveConfig(cmd *cobra.Command, role string) (nodeConfig, error) {
	cfg := defaultNodeConfig()
	flags := cmd.Flags()

	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = loadNodeConfig(path); err != nil {
			return nodeConfig{}, err
		}
	}

	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = strings.TrimSpace(v)
		}
	}
	str("id", &cfg.ID)
	str("transport", &cfg.Transport)
	str("codec", &cfg.Codec)
	str("redis-addr", &cfg.Redis.Addr)
	str("parent", &cfg.Parent)
	str("parent-url", &cfg.ParentURL)
	str("emit", &cfg.Emit)

	if flags.Changed("interval") {
		cfg.Interval, _ = flags.GetDuration("interval")
	}
	if flags.Changed("send-timeout") {
		cfg.SendTimeout, _ = flags.GetDuration("send-timeout")
	}

	if role == roleCoordinator {
		if flags.Changed("children") {
			v, _ := flags.GetStringSlice("children")
			cfg.Children = normalizeIDs(v)
		}
		str("listen", &cfg.Listen)
		if flags.Changed("echo-up") {
			cfg.EchoUp, _ = flags.GetBool("echo-up")
		}
		if flags.Changed("echo-down") {
			cfg.EchoDown, _ = flags.GetBool("echo-down")
		}
	}

	cfg.Transport = strings.ToLower(cfg.Transport)
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.validate(role); err != nil {
		return nodeConfig{}, fmt.Errorf("%s: %w", role, err)
	}
	return cfg, nil
}
