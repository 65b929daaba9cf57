package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Veraticus/sightings/internal/registry"
	"github.com/Veraticus/sightings/internal/storage"
)

func sightingsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sightings",
		Short: "Inspect recorded sightings",
	}
	cmd.AddCommand(sightingsListCmd(flags))
	return cmd
}

func sightingsListCmd(flags *globalFlags) *cobra.Command {
	var (
		plate string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sightings, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(flags)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := storage.NewSightings(store).List(cmd.Context(), registry.NormalizePlate(plate), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No sightings recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPLATE\tWHEN\tWHERE\tBY")
			now := time.Now()
			for _, s := range list {
				where := ""
				if s.Location != nil {
					where = s.Location.Description
					if s.Location.HasCoordinates() {
						where = fmt.Sprintf("%.5f,%.5f", *s.Location.Latitude, *s.Location.Longitude)
					}
				}
				by := s.ContributorName
				if by == "" {
					by = "anonymous"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.Plate, humanize.RelTime(s.CreatedAt, now, "ago", "from now"), where, by)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s sightings\n", humanize.Comma(int64(len(list))))
			return nil
		},
	}
	cmd.Flags().StringVar(&plate, "plate", "", "Only sightings of this plate")
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the most recent N (0 for all)")
	return cmd
}
