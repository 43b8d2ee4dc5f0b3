// Command physicalwebd serves the Physical-Web URL resolution API.
package main

import (
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	physicalweb "github.com/physical-web/resolver"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PHYSICALWEB"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "physicalwebd",
		Short: "Physical-Web URL resolution service",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newDistanceCmd())
	return root
}

func newServeCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}
	flags := cmd.Flags()
	flags.String("listen", "127.0.0.1:8080", "address to listen on")
	flags.String("store", "physicalweb.db", "path to the sqlite metadata store")
	flags.String("user-agent", "PhysicalWebResolver/1.0", "User-Agent sent to origin servers")
	flags.String("deployment-id", "", "deployment identifier; a trailing \"-dev\" suffix enables experimental headers")
	flags.Duration("stale-after", physicalweb.DefaultStaleAfter, "cache freshness window before a background refresh is queued")
	flags.Duration("refresh-debounce", physicalweb.DefaultRefreshDebounce, "minimum time between refreshes of the same key")
	flags.Int("max-redirects", physicalweb.DefaultMaxRedirects, "maximum redirect hops followed while resolving a URL")
	flags.Bool("secure-only-default", false, "default value of secureOnly when a scan request omits it")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(v *viper.Viper) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	deploymentID := v.GetString("deployment-id")
	experimental := len(deploymentID) > 4 && deploymentID[len(deploymentID)-4:] == "-dev"

	store, err := physicalweb.NewSQLiteStore(v.GetString("store"))
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}

	fetcher := physicalweb.NewFetcher(v.GetString("user-agent"), experimental)

	refresh := physicalweb.NewRefreshQueue(store, log,
		physicalweb.WithRefreshDebounce(v.GetDuration("refresh-debounce")),
	)

	resolver := physicalweb.NewResolver(store, fetcher, refresh, log,
		physicalweb.WithStaleAfter(v.GetDuration("stale-after")),
		physicalweb.WithMaxRedirects(v.GetInt("max-redirects")),
	)

	handler := physicalweb.NewHandler(resolver, store, fetcher, refresh, log,
		physicalweb.WithSecureOnlyDefault(v.GetBool("secure-only-default")),
	)

	listen := v.GetString("listen")
	log.Info().Str("listen", listen).Bool("experimental", experimental).Msg("starting physicalwebd")
	return http.ListenAndServe(listen, handler)
}

// newDistanceCmd is a small debug utility carried over from the original
// project's RSSI-sweep script: it prints the distance model's output across
// a range of RSSI values for a given tx power, useful when tuning beacons.
func newDistanceCmd() *cobra.Command {
	var txPower float64
	var rssiFrom, rssiTo int
	cmd := &cobra.Command{
		Use:   "distance",
		Short: "print the RSSI/TxPower distance model over a sweep of RSSI values",
		RunE: func(cmd *cobra.Command, args []string) error {
			for rssi := rssiFrom; rssi <= rssiTo; rssi++ {
				r := float64(rssi)
				d, ok := physicalweb.Distance(&r, &txPower)
				if !ok {
					fmt.Printf("rssi=%d txpower=%.1f distance=invalid\n", rssi, txPower)
					continue
				}
				fmt.Printf("rssi=%d txpower=%.1f distance=%.3fm\n", rssi, txPower, math.Round(d*1000)/1000)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&txPower, "txpower", -20, "calibrated tx power at 1 meter")
	cmd.Flags().IntVar(&rssiFrom, "from", -100, "first RSSI value in the sweep")
	cmd.Flags().IntVar(&rssiTo, "to", -30, "last RSSI value in the sweep")
	return cmd
}
