package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Veraticus/sightings/internal/config"
	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/storage"
)

// openStore loads config and opens the database it names.
func openStore(flags *globalFlags) (*storage.Store, config.Config, error) {
	cfg, err := config.LoadEffective(flags.configPath, flags.envFile)
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

func registryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the vehicle registry",
	}
	cmd.AddCommand(
		registryImportCmd(flags),
		registryLookupCmd(flags),
		registrySearchCmd(flags),
	)
	return cmd
}

func registryImportCmd(flags *globalFlags) *cobra.Command {
	var fiskerOnly bool

	cmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "Load a registry CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer func() { _ = f.Close() }()

			records, err := registry.LoadCSV(f)
			if err != nil {
				return err
			}
			total := len(records)
			if fiskerOnly {
				records = filterFisker(records)
			}

			store, _, err := openStore(flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			imported, err := storage.NewRegistry(store).Import(cmd.Context(), records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s of %s records\n",
				humanize.Comma(int64(imported)), humanize.Comma(int64(total)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fiskerOnly, "fisker-only", false, "Keep only records whose VIN starts with "+registry.FiskerVINPrefix)
	return cmd
}

func filterFisker(records []registry.Record) []registry.Record {
	out := records[:0]
	for _, rec := range records {
		if rec.HasVINPrefix(registry.FiskerVINPrefix) {
			out = append(out, rec)
		}
	}
	return out
}

func registryLookupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <plate>",
		Short: "Look up one plate exactly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			plate := registry.NormalizePlate(args[0])
			rec, err := storage.NewRegistry(store).LookupExact(cmd.Context(), plate)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("plate %s not found", plate)
			}
			printRecords(cmd.OutOrStdout(), []matcher.Candidate{{Record: *rec, Kind: matcher.KindExact}})
			return nil
		},
	}
}

func registrySearchCmd(flags *globalFlags) *cobra.Command {
	var (
		fiskerOnly bool
		activeOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search <pattern>",
		Short: "Match plate text the way the conversation does",
		Long: `Search runs the plate matcher: an exact hit first, then '*' wildcards
(each standing for one character), then near misses.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			opts := matcher.Options{
				Limit:           limit,
				FiskerOnly:      fiskerOnly || cfg.Matcher.FiskerOnly,
				ActiveOnly:      activeOnly || cfg.Matcher.ActiveOnly,
				ExpandShortForm: cfg.Matcher.ExpandShortForm,
			}
			candidates, err := matcher.Match(cmd.Context(), storage.NewRegistry(store), args[0], opts)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No match for %s\n", matcher.Normalize(args[0], opts))
				return nil
			}
			printRecords(cmd.OutOrStdout(), candidates)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fiskerOnly, "fisker-only", false, "Only consider Fisker VINs")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "Only consider active records")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum candidates to print (0 for all)")
	return cmd
}

func printRecords(w io.Writer, candidates []matcher.Candidate) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATE\tMATCH\tVIN\tYEAR\tBASE\tACTIVE")
	for _, c := range candidates {
		match := string(c.Kind)
		if c.Kind == matcher.KindFuzzy {
			match = fmt.Sprintf("%s(%d)", c.Kind, c.Distance)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n",
			c.Record.Plate, match, c.Record.VIN, c.Record.VehicleYear, c.Record.BaseName, c.Record.Active)
	}
	_ = tw.Flush()
}
