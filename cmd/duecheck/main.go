// Command duecheck computes due maintenance services offline, from a JSON file
// of vehicles or from readings given on the command line.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukydev/vehicle-care/internal/models"
	"github.com/ukydev/vehicle-care/internal/schedule"
)

type options struct {
	catalogFile string
	horizon     int64
	dueSoon     int64
	verbose     bool
	jsonOut     bool
	attention   bool
	mileage     string
	last        string
}

func (o *options) planner() (*schedule.Planner, error) {
	catalog := schedule.DefaultCatalog()
	if o.catalogFile != "" {
		c, err := schedule.LoadCatalog(o.catalogFile)
		if err != nil {
			return nil, err
		}
		catalog = c
		log.WithFields(log.Fields{"file": o.catalogFile, "services": c.Len()}).Debug("Loaded catalog")
	}
	return schedule.NewPlanner(catalog, schedule.Policy{Horizon: o.horizon, DueSoonThreshold: o.dueSoon})
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "duecheck",
		Short:         "Compute due maintenance services for vehicles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.SetOutput(cmd.ErrOrStderr())
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.catalogFile, "catalog", "", "TOML catalog file (built-in catalog when empty)")
	root.PersistentFlags().Int64Var(&opts.horizon, "horizon", schedule.DefaultHorizon, "only list services due within this distance")
	root.PersistentFlags().Int64Var(&opts.dueSoon, "due-soon", schedule.DefaultDueSoonThreshold, "distance at which a service becomes Due Soon")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of a table")

	root.AddCommand(newDueCmd(opts), newCatalogCmd(opts))
	return root
}

func newDueCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "due [vehicles.json|-]",
		Short: "List due services for the vehicles in a JSON file, or for --mileage/--last",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planner, err := opts.planner()
			if err != nil {
				return err
			}

			vehicles, err := opts.vehicles(cmd, args)
			if err != nil {
				return err
			}

			results := make([]models.VehicleDue, 0, len(vehicles))
			for i := range vehicles {
				v := vehicles[i]
				if v.MileageRegressed() {
					log.WithField("reg_no", v.RegNo).Warn("Current mileage is below last service mileage")
				}
				due := planner.Due(v.Snapshot())
				if opts.attention {
					due = schedule.Attention(due)
				}
				results = append(results, models.VehicleDue{Vehicle: v, Services: due})
			}

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			return writeDueTable(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().BoolVar(&opts.attention, "attention", false, "only show Overdue and Due Soon services")
	cmd.Flags().StringVar(&opts.mileage, "mileage", "", "current odometer reading")
	cmd.Flags().StringVar(&opts.last, "last", "", "odometer reading at the last service")
	return cmd
}

// vehicles reads the vehicle list from the file argument, stdin ("-"), or
// builds a single vehicle from --mileage and --last.
func (o *options) vehicles(cmd *cobra.Command, args []string) ([]models.Vehicle, error) {
	if len(args) == 0 {
		if o.mileage == "" {
			return nil, errors.New("give a vehicles file or --mileage")
		}
		mileage, ok := schedule.ParseOdometer(o.mileage)
		if !ok {
			return nil, fmt.Errorf("invalid --mileage %q", o.mileage)
		}
		last, ok := schedule.ParseOdometer(o.last)
		if !ok && o.last != "" {
			return nil, fmt.Errorf("invalid --last %q", o.last)
		}
		return []models.Vehicle{{
			RegNo:              "-",
			Mileage:            models.Odometer(mileage),
			LastServiceMileage: models.Odometer(last),
		}}, nil
	}

	var r io.Reader
	if args[0] == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to open vehicles file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var vehicles []models.Vehicle
	if err := json.NewDecoder(r).Decode(&vehicles); err != nil {
		return nil, fmt.Errorf("failed to parse vehicles: %w", err)
	}
	log.WithField("vehicles", len(vehicles)).Debug("Read vehicles")
	return vehicles, nil
}

func newCatalogCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the service catalog in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			planner, err := opts.planner()
			if err != nil {
				return err
			}
			defs := planner.Catalog().Definitions()
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), defs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVICE\tINTERVAL\tDESCRIPTION")
			for _, d := range defs {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", d.ID, d.Name, d.Interval, d.Description)
			}
			return tw.Flush()
		},
	}
}

func writeDueTable(w io.Writer, results []models.VehicleDue) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REG NO\tSERVICE\tNEXT AT\tDUE IN\tSTATUS")
	for _, r := range results {
		if len(r.Services) == 0 {
			fmt.Fprintf(tw, "%s\t-\t-\t-\tnothing due\n", r.Vehicle.RegNo)
			continue
		}
		for _, d := range r.Services {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Vehicle.RegNo, d.Name, d.NextServiceAt, d.DueIn, d.Status)
		}
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Error("duecheck failed")
		os.Exit(1)
	}
}
