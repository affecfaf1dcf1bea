package demo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ValentinKolb/shadowvar/cmd/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Logger = logger.GetLogger("cli")

	// DemoCmd runs the example scenarios against a fresh store
	DemoCmd = &cobra.Command{
		Use:     "demo [scenario...]",
		Short:   "Run example scenarios against a local store",
		Long:    "Runs the example scenarios (all of them if none is given) against a fresh local store and prints every step.",
		PreRunE: processDemoConfig,
		RunE:    run,
	}
)

func init() {
	key := "stats"
	DemoCmd.Flags().Bool(key, false, util.WrapString("Print the store statistics and metrics after the scenarios"))
}

func processDemoConfig(cmd *cobra.Command, args []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	for _, name := range args {
		if findScenario(name) == nil {
			return fmt.Errorf("unknown scenario %q", name)
		}
	}
	return nil
}

func findScenario(name string) *scenario {
	for i := range scenarios {
		if scenarios[i].name == name {
			return &scenarios[i]
		}
	}
	return nil
}

func run(_ *cobra.Command, args []string) error {
	config := util.GetStoreConfig()
	store, err := util.NewStore(config)
	if err != nil {
		return err
	}
	defer store.Close()

	Logger.Debugf("store configuration:%s", config.String())

	selected := scenarios
	if len(args) > 0 {
		selected = nil
		for _, name := range args {
			selected = append(selected, *findScenario(name))
		}
	}

	for _, s := range selected {
		fmt.Printf("%s: %s\n", s.name, s.desc)
		if err := s.run(store, os.Stdout); err != nil {
			return fmt.Errorf("scenario %s failed: %w", s.name, err)
		}
		fmt.Println("  ok")
	}

	if viper.GetBool("stats") {
		info, err := json.MarshalIndent(store.GetInfo(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("\nStore info:\n%s\n\nMetrics:\n", info)
		store.WritePrometheus(os.Stdout)
	}

	return nil
}
