package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/shadowvar/lib/common"
	"github.com/ValentinKolb/shadowvar/lib/shadow"
	"github.com/ValentinKolb/shadowvar/lib/shadow/lstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the store configuration flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "bucket-bits"
	cmd.PersistentFlags().Uint(key, 12, WrapString("log2 of the number of hashtable buckets"))

	key = "max-bytes"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Upper bound for the bytes of live and not yet reclaimed shadow variables (0 = unlimited)"))

	key = "max-types"
	cmd.PersistentFlags().Int(key, 0, WrapString("Upper bound for registered type ids (0 = unlimited)"))

	key = "callback-budget"
	cmd.PersistentFlags().Duration(key, time.Millisecond, WrapString("Constructor / destructor runtime that triggers a warning (negative = off)"))

	key = "reclaim-interval"
	cmd.PersistentFlags().Duration(key, 10*time.Millisecond, WrapString("Time between two runs of the memory reclaimer"))

	key = "detect-deadlocks"
	cmd.PersistentFlags().Bool(key, false, WrapString("Use a deadlock detecting mutex as the write lock"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("shadow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags (including inherited ones) to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() *common.StoreConfig {
	return &common.StoreConfig{
		BucketBits:      viper.GetUint("bucket-bits"),
		MaxBytes:        viper.GetInt64("max-bytes"),
		MaxTypes:        viper.GetInt("max-types"),
		CallbackBudget:  viper.GetDuration("callback-budget"),
		ReclaimInterval: viper.GetDuration("reclaim-interval"),
		DetectDeadlocks: viper.GetBool("detect-deadlocks"),
		LogLevel:        viper.GetString("log-level"),
	}
}

// NewStore initializes the loggers and creates a local store from config
func NewStore(config *common.StoreConfig) (shadow.IStore, error) {
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, err
	}
	return lstore.NewLocalStore(config.ToOptions()), nil
}
