package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/shadowvar/cmd/demo"
	"github.com/ValentinKolb/shadowvar/cmd/perf"
	"github.com/ValentinKolb/shadowvar/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "shadowvar",
		Short: "shadow variable store",
		Long: fmt.Sprintf(`shadowvar (v%s)

An in process store that attaches data to existing objects by address,
with wait-free lookups and epoch based memory reclamation.

All store flags can also be set via environment variables
(SHADOW_<FLAG>, e.g. SHADOW_BUCKET_BITS=14) or a .env file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of shadowvar",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shadowvar v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(demo.DemoCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
