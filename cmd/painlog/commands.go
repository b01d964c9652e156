package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/painlog/internal/config"
	"github.com/kalambet/painlog/internal/journal"
	"github.com/kalambet/painlog/internal/tracker"
)

type writeResult struct {
	Success bool `json:"success"`
	tracker.Status
}

// --- submit / annotate ---

var submitCmd = &cobra.Command{
	Use:   "submit <0-10>",
	Short: "Record a pain level through the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := tracker.ParsePainValue(args[0]); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := submitPain(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		printSuccess("Recorded pain level %d", st.CurrentMetric)
		return nil
	},
}

var annotateCmd = &cobra.Command{
	Use:   "annotate <text>",
	Short: "Create a treatment annotation through the running server",
	Long: `Create a treatment annotation through the running server.

Examples:
  painlog annotate "Oxygen On"
  painlog annotate Sumatriptan`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := createAnnotation(cmd.Context(), client, text)
		if err != nil {
			return err
		}

		printSuccess("Annotated %q", st.LastAnnotation)
		return nil
	},
}

func submitPain(ctx context.Context, c *apiClient, value string) (tracker.Status, error) {
	return postWrite(ctx, c, "/submit", url.Values{"pain_metric": {value}})
}

func createAnnotation(ctx context.Context, c *apiClient, text string) (tracker.Status, error) {
	return postWrite(ctx, c, "/create_annotation", url.Values{"annotation": {text}})
}

func postWrite(ctx context.Context, c *apiClient, path string, form url.Values) (tracker.Status, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.postForm(ctx, path, form)
	if err != nil {
		return tracker.Status{}, err
	}
	var result writeResult
	if err := decodeJSON(resp, &result); err != nil {
		return tracker.Status{}, err
	}
	if !result.Success {
		return tracker.Status{}, fmt.Errorf("server did not report success")
	}
	return result.Status, nil
}

// --- journal ---

var journalCmd = &cobra.Command{
	Use:   "journal [id]",
	Short: "List recent write attempts, or show one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if cfg.Storage.DataDir == "" {
			return fmt.Errorf("journal disabled: set storage.data_dir")
		}

		store, err := journal.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if len(args) == 1 {
			e, err := store.Get(ctx, args[0])
			if errors.Is(err, journal.ErrNotFound) {
				return fmt.Errorf("journal entry %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(e)
		}

		entries, err := store.Recent(ctx, limit)
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no entries")
			return nil
		}
		return printEntries(cmd.OutOrStdout(), entries)
	},
}

func init() {
	journalCmd.Flags().Int("limit", 20, "maximum number of entries to show")
}

func printEntries(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tKIND\tVALUE\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = "failed: " + e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Value, result)
	}
	return tw.Flush()
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", cfg.Path)
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(cfgPath, key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
