package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/shadowvar/lib/shadow/lstore"
)

// --------------------------------------------------------------------------
// Store configuration struct
// --------------------------------------------------------------------------

// StoreConfig holds all parameters to create a local shadow variable store
type StoreConfig struct {
	// hashtable
	BucketBits uint

	// limits
	MaxBytes int64
	MaxTypes int

	// callbacks
	CallbackBudget  time.Duration
	DetectDeadlocks bool

	// reclamation
	ReclaimInterval time.Duration

	// Logging configuration
	LogLevel string
}

// ToOptions converts the config into lstore options
func (c *StoreConfig) ToOptions() *lstore.Options {
	return &lstore.Options{
		BucketBits:      c.BucketBits,
		MaxBytes:        c.MaxBytes,
		MaxTypes:        c.MaxTypes,
		CallbackBudget:  c.CallbackBudget,
		ReclaimInterval: c.ReclaimInterval,
		DetectDeadlocks: c.DetectDeadlocks,
	}
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	unlimited := func(v int64) string {
		if v <= 0 {
			return "unlimited"
		}
		return fmt.Sprintf("%d", v)
	}

	addSection("Hashtable")
	addField("Buckets", fmt.Sprintf("%d (2^%d)", uint64(1)<<c.BucketBits, c.BucketBits))

	addSection("Limits")
	addField("Max Bytes", unlimited(c.MaxBytes))
	addField("Max Types", unlimited(int64(c.MaxTypes)))

	addSection("Callbacks")
	if c.CallbackBudget < 0 {
		addField("Budget", "off")
	} else {
		addField("Budget", c.CallbackBudget.String())
	}
	addField("Deadlock Detection", fmt.Sprintf("%t", c.DetectDeadlocks))

	addSection("Reclamation")
	addField("Interval", c.ReclaimInterval.String())

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
