package util

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if WrapString("") != "" {
		t.Error("Expected empty string for empty input")
	}
}

func TestStoreConfigFromFlagsAndEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SHADOW_MAX_TYPES", "7")

	root := &cobra.Command{Use: "root"}
	SetupStoreFlags(root)
	child := &cobra.Command{Use: "child", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(child)

	root.SetArgs([]string{"child", "--bucket-bits", "8", "--detect-deadlocks"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	InitConfig()
	if err := BindCommandFlags(child); err != nil {
		t.Fatalf("BindCommandFlags failed: %v", err)
	}

	config := GetStoreConfig()
	if config.BucketBits != 8 || !config.DetectDeadlocks {
		t.Errorf("Flags not applied: %+v", config)
	}
	if config.MaxTypes != 7 {
		t.Errorf("Expected MaxTypes 7 from the environment, got %d", config.MaxTypes)
	}
	if config.CallbackBudget != time.Millisecond || config.LogLevel != "info" {
		t.Errorf("Defaults not applied: %+v", config)
	}
}
