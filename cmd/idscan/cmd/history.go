package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/idscan/internal/store"
)

// historyReport is what history prints in json and yaml formats.
type historyReport struct {
	Sessions []store.Record `json:"sessions" yaml:"sessions"`
	Stats    *store.Stats   `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// historyCmd represents the history command.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded scan sessions",
	Long: `List the most recent scan sessions from the history database, newest first.

Examples:
  idscan history
  idscan history --limit 5 --stats
  idscan history --format yaml
  idscan history --prune 720h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		withStats, _ := cmd.Flags().GetBool("stats")
		prune, _ := cmd.Flags().GetDuration("prune")
		if cmd.Flags().Changed("db") {
			cfg.Store.Path, _ = cmd.Flags().GetString("db")
		}

		validFormats := []string{outputFormatText, outputFormatJSON, outputFormatYAML}
		if !slices.Contains(validFormats, format) {
			return fmt.Errorf("invalid output format: %s (must be one of: %s)", format, strings.Join(validFormats, ", "))
		}
		if cfg.Store.Path == "" {
			return errors.New("session history is disabled (store.path is empty)")
		}

		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()
		if prune > 0 {
			n, err := st.Prune(ctx, time.Now().Add(-prune))
			if err != nil {
				return fmt.Errorf("failed to prune history: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Pruned %d session(s)\n", n)
		}

		records, err := st.List(ctx, limit)
		if err != nil {
			return err
		}
		report := historyReport{Sessions: records}
		if report.Sessions == nil {
			report.Sessions = []store.Record{}
		}
		if withStats {
			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			report.Stats = &stats
		}
		return writeHistory(cmd.OutOrStdout(), format, report)
	},
}

func writeHistory(w io.Writer, format string, report historyReport) error {
	switch format {
	case outputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case outputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(report.Sessions) == 0 {
		_, err := fmt.Fprintln(w, "No sessions recorded")
		return err
	}
	for _, r := range report.Sessions {
		line := fmt.Sprintf("%s  %-36s  %-14s  %-5s  %-8s  %6dms",
			r.CreatedAt.Local().Format(time.DateTime), r.ID, r.Document, r.Side, r.Outcome, r.DurationMS)
		if r.ErrorKind != "" {
			line += "  " + string(r.ErrorKind)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if s := report.Stats; s != nil {
		_, err := fmt.Fprintf(w, "\n%d sessions: %d captured, %d forced, %d failed (avg %.0fms, avg blur %.1f)\n",
			s.Total, s.Captured, s.Forced, s.Failed, s.AvgDurationMS, s.AvgBlurScore)
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "number of sessions to show (0 for all)")
	historyCmd.Flags().StringP("format", "f", outputFormatText, "output format (text, json, yaml)")
	historyCmd.Flags().Bool("stats", false, "include aggregate statistics")
	historyCmd.Flags().Duration("prune", 0, "delete sessions older than this before listing")
	historyCmd.Flags().String("db", "", "history database path (overrides store.path)")
}
