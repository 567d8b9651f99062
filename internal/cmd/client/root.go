package client

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewKvCommand constructs the `kv` command group and subcommands.
func NewKvCommand(baseURL BaseURLFunc) *cobra.Command {
	kvCmd := &cobra.Command{Use: "kv", Short: "Key-value operations"}
	kvCmd.AddCommand(
		newKvPutCommand(baseURL),
		newKvGetCommand(baseURL),
		newKvDelCommand(baseURL),
	)
	return kvCmd
}

func newKvPutCommand(baseURL BaseURLFunc) *cobra.Command {
	putCmd := &cobra.Command{
		Use:   "put",
		Short: "Store a value under a key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			value, _ := cmd.Flags().GetString("value")
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			c := newHTTPClient(baseURL())
			if err := c.put(cmd.Context(), key, []byte(value)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	putCmd.Flags().StringP("key", "k", "", "Key")
	putCmd.Flags().StringP("value", "v", "", "Value")
	return putCmd
}

func newKvGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch the value under a key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			c := newHTTPClient(baseURL())
			value, maybeStale, err := c.get(cmd.Context(), key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			if maybeStale {
				fmt.Fprintln(cmd.ErrOrStderr(), "(maybe stale: read crossed a compaction)")
			}
			return nil
		},
	}
	getCmd.Flags().StringP("key", "k", "", "Key")
	return getCmd
}

func newKvDelCommand(baseURL BaseURLFunc) *cobra.Command {
	delCmd := &cobra.Command{
		Use:   "del",
		Short: "Delete a key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			c := newHTTPClient(baseURL())
			if err := c.del(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	delCmd.Flags().StringP("key", "k", "", "Key")
	return delCmd
}

// NewAdminCommand constructs the `admin` command group and subcommands.
func NewAdminCommand(baseURL BaseURLFunc) *cobra.Command {
	adminCmd := &cobra.Command{Use: "admin", Short: "Engine administration"}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Dump topology, shard sizes and worker health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newHTTPClient(baseURL())
			state, err := c.state(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Drop cached values across all shards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newHTTPClient(baseURL())
			if err := c.clearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Set compaction control",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enabled, _ := cmd.Flags().GetBool("enabled")
			auto, _ := cmd.Flags().GetBool("auto")
			c := newHTTPClient(baseURL())
			if err := c.setGc(cmd.Context(), enabled, auto); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	gcCmd.Flags().Bool("enabled", true, "Enable compaction")
	gcCmd.Flags().Bool("auto", true, "Trigger compaction automatically from garbage ratios")

	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "List data files per zone with sizes and garbage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newHTTPClient(baseURL())
			zones, err := c.files(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ZONE\tFILE\tSTATUS\tSIZE\tENTRIES\tGARBAGE\tREADERS\tMOVES")
			for _, z := range zones {
				for _, f := range z.Files {
					fmt.Fprintf(tw, "%d\t%08d\t%s\t%d\t%d\t%d\t%d\t%d\n",
						z.Zone, f.File, f.Status, f.Size, f.Entries, f.GarbageBytes, f.Readers, f.MovePending)
				}
			}
			return tw.Flush()
		},
	}

	adminCmd.AddCommand(stateCmd, clearCmd, gcCmd, filesCmd)
	return adminCmd
}
