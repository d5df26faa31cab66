package main

import (
	"encoding/json"
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/winrate/internal/calibration"
	"github.com/banshee-data/winrate/internal/config"
	"github.com/banshee-data/winrate/internal/dataset"
	"github.com/banshee-data/winrate/internal/db"
	"github.com/banshee-data/winrate/internal/errkind"
	"github.com/banshee-data/winrate/internal/reliability"
	"github.com/banshee-data/winrate/internal/version"
)

// openStoreDB opens the database named by the config and flags, failing
// when it is disabled.
func openStoreDB(cmd *cobra.Command) (*db.DB, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("db") {
		p, _ := cmd.Flags().GetString("db")
		cfg.Database = &p
	}
	d, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errkind.Configurationf("database is disabled")
	}
	return d, nil
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored comparison runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openStoreDB(cmd)
			if err != nil {
				return err
			}
			defer d.Close()

			store := db.NewComparisonStore(d)
			var runs []*db.ComparisonRun
			if comparison, _ := cmd.Flags().GetString("comparison"); comparison != "" {
				runs, err = store.ListByComparison(comparison)
			} else {
				limit, _ := cmd.Flags().GetInt("limit")
				runs, err = store.Recent(limit)
			}
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runsForJSON(runs))
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tCOMPARISON\tFOLD\tESTIMATOR\tCALIBRATOR\tMETHOD\tP\tCI\tTRUE P\tERROR")
			for _, r := range runs {
				fold := "-"
				if r.Fold != nil {
					fold = fmt.Sprint(*r.Fold)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.4f\t[%.4f, %.4f]\t%s\t%s\n",
					time.Unix(0, r.CreatedAt).Format(time.RFC3339), r.Comparison, fold,
					r.Estimator, r.Calibrator, r.Method, r.PMean, r.PLower, r.PUpper,
					orDash(r.TrueP), orDash(r.MeanError))
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("comparison", "", "only runs of this A___B comparison")
	cmd.Flags().Int("limit", 20, "number of recent runs")
	cmd.Flags().Bool("json", false, "print JSON")
	cmd.Flags().String("db", "results/winrate.db", "sqlite database")
	return cmd
}

func orDash(f float64) string {
	if math.IsNaN(f) {
		return "-"
	}
	return fmt.Sprintf("%.4f", f)
}

// runsForJSON replaces NaN, which encoding/json rejects, with null.
func runsForJSON(runs []*db.ComparisonRun) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(runs))
	for _, r := range runs {
		num := func(f float64) interface{} {
			if math.IsNaN(f) {
				return nil
			}
			return f
		}
		out = append(out, map[string]interface{}{
			"run_id":     r.RunID,
			"comparison": r.Comparison,
			"dataset":    r.Dataset,
			"estimator":  r.Estimator,
			"calibrator": r.Calibrator,
			"method":     r.Method,
			"fold":       r.Fold,
			"p_mean":     num(r.PMean),
			"p_mode":     num(r.PMode),
			"p_lower":    num(r.PLower),
			"p_upper":    num(r.PUpper),
			"k":          num(r.K),
			"true_p":     num(r.TrueP),
			"mean_error": num(r.MeanError),
			"mode_error": num(r.ModeError),
			"k_error":    num(r.KError),
			"params":     r.ParamsJSON,
			"created_at": time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the matrix cache",
	}
	purge := &cobra.Command{
		Use:   "purge DATASET",
		Short: "Delete every cached matrix of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openStoreDB(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			n, err := db.NewMatrixCache(d).Purge(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printf(cmd, "purged %d cached matrices for %s\n", n, args[0])
			return nil
		},
	}
	purge.Flags().String("db", "results/winrate.db", "sqlite database")
	cmd.AddCommand(purge)
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			// Open applies pending migrations.
			d, err := openStoreDB(cmd)
			if err != nil {
				return err
			}
			defer d.Close()
			switch action {
			case "up", "version":
			case "down":
				if err := d.MigrateDown(); err != nil {
					return err
				}
			default:
				return errkind.Configurationf("unknown migrate action %q", action)
			}
			v, dirty, err := d.MigrateVersion()
			if err != nil {
				return err
			}
			printf(cmd, "schema version %d (dirty: %v)\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().String("db", "results/winrate.db", "sqlite database")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasets, q estimators and q calibrators",
		Run: func(cmd *cobra.Command, args []string) {
			printf(cmd, "Datasets:\n")
			for _, name := range dataset.DefaultRegistry().Names() {
				def, _ := dataset.DefaultRegistry().Get(name)
				printf(cmd, "  %-28s %s\n", name, def.Description)
			}
			printf(cmd, "Q estimators:\n")
			for _, info := range reliability.DefaultRegistry().List() {
				printf(cmd, "  %-28s %-9s %s\n", info.Name, info.Model, info.Description)
			}
			printf(cmd, "  %-28s skip q estimation\n", reliability.NoEstimator)
			printf(cmd, "Q calibrators:\n")
			for _, info := range calibration.DefaultRegistry().List() {
				kind := "em"
				if info.Bayesian {
					kind = "bayesian"
				}
				printf(cmd, "  %-28s %-9s %-9s %s\n", info.Name, info.Model, kind, info.Description)
			}
			printf(cmd, "  %-28s use estimated q as is\n", calibration.NoCalibrator)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printf(cmd, "%s\n", version.String())
		},
	}
}
