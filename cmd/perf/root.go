package perf

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/shadowvar/cmd/util"
	"github.com/ValentinKolb/shadowvar/lib/common"
	"github.com/ValentinKolb/shadowvar/lib/shadow"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd runs a concurrent workload against a local store
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the local store",
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfNumThreads = 10
	perfOwners     = 10000
	perfSize       = 16
	perfSampleRate = 64
	perfSkip       = make([]string, 0)
)

func init() {
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. get,alloc-free)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "owners"
	PerfCmd.Flags().Int(key, 10000, util.WrapString("How many different owners to use for the tests"))
	key = "size"
	PerfCmd.Flags().Int(key, 16, util.WrapString("Size of the shadow variables in bytes"))
	key = "sample-rate"
	PerfCmd.Flags().Int(key, 64, util.WrapString("Measure the latency of every n-th operation"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	perfNumThreads = viper.GetInt("threads")
	perfOwners = viper.GetInt("owners")
	perfSize = viper.GetInt("size")
	perfSampleRate = viper.GetInt("sample-rate")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfOwners <= 0 || perfSize < 0 || perfSampleRate <= 0 || perfNumThreads <= 0 {
		return fmt.Errorf("owners, threads and sample-rate must be positive, size must not be negative")
	}
	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// workload is one benchmark. op runs one operation for the i-th iteration of a worker.
type workload struct {
	name    string
	prepare func(store shadow.IStore, typ *shadow.Type)
	op      func(store shadow.IStore, typ *shadow.Type, i int)
}

func owner(i int) uintptr {
	return uintptr(0x1000 + (i%perfOwners)*8)
}

func fill(store shadow.IStore, typ *shadow.Type) {
	for i := 0; i < perfOwners; i++ {
		store.Alloc(owner(i), typ, perfSize, nil)
	}
}

var workloads = []workload{
	{
		name:    "get",
		prepare: fill,
		op: func(store shadow.IStore, typ *shadow.Type, i int) {
			store.Get(owner(i), typ)
		},
	},
	{
		name: "get-not",
		op: func(store shadow.IStore, typ *shadow.Type, i int) {
			store.Get(owner(i), typ)
		},
	},
	{
		name:    "get-or-alloc",
		prepare: fill,
		op: func(store shadow.IStore, typ *shadow.Type, i int) {
			store.GetOrAlloc(owner(i), typ, perfSize, nil)
		},
	},
	{
		name: "alloc-free",
		op: func(store shadow.IStore, typ *shadow.Type, i int) {
			o := owner(i)
			store.GetOrAlloc(o, typ, perfSize, nil)
			store.Free(o, typ)
		},
	},
	{
		name:    "mixed",
		prepare: fill,
		op: func(store shadow.IStore, typ *shadow.Type, i int) {
			switch i % 20 {
			case 0:
				store.GetOrAlloc(owner(i), typ, perfSize, nil)
			case 1:
				store.Free(owner(i), typ)
			default:
				store.Get(owner(i), typ)
			}
		},
	},
}

func run(_ *cobra.Command, _ []string) error {
	config := util.GetStoreConfig()

	fmt.Println("Performance testing tool for the local shadow variable store")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, Owners: %d, Size: %d bytes\n", perfNumThreads, perfOwners, perfSize)
	fmt.Println()
	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	results := make(map[string]testing.BenchmarkResult)

	for _, w := range workloads {
		if shouldSkip(w.name) {
			printResult(w.name, testing.BenchmarkResult{}, nil)
			continue
		}

		timer := metrics.GetOrRegisterTimer(w.name, registry)
		result, err := runWorkload(config, w, timer)
		if err != nil {
			return err
		}
		results[w.name] = result
		printResult(w.name, result, timer)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, registry, config); err != nil {
			return err
		}
	}
	return nil
}

// runWorkload benchmarks w against a fresh store
func runWorkload(config *common.StoreConfig, w workload, timer metrics.Timer) (testing.BenchmarkResult, error) {
	store, err := util.NewStore(config)
	if err != nil {
		return testing.BenchmarkResult{}, err
	}
	defer store.Close()

	typ := &shadow.Type{ID: 1}
	if err := store.Register(typ); err != nil {
		return testing.BenchmarkResult{}, err
	}
	defer store.Unregister(typ)

	var worker atomic.Int64
	result := testing.Benchmark(func(b *testing.B) {
		if w.prepare != nil {
			w.prepare(store, typ)
		}

		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			// spread the workers over the owners
			i := int(worker.Add(1)) * 7919
			for pb.Next() {
				if i%perfSampleRate == 0 {
					start := time.Now()
					w.op(store, typ, i)
					timer.UpdateSince(start)
				} else {
					w.op(store, typ, i)
				}
				i++
			}
		})
	})
	return result, nil
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, s := range perfSkip {
		if strings.TrimSpace(s) == test {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, timer metrics.Timer) {
	if result.N == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
	if timer != nil && timer.Count() > 0 {
		ps := timer.Percentiles([]float64{0.5, 0.99})
		fmt.Printf("\tp50 %s\tp99 %s", time.Duration(ps[0]), time.Duration(ps[1]))
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, registry metrics.Registry, config *common.StoreConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "P50Ns", "P99Ns", "MaxNs", "Samples",
		"BucketBits", "MaxBytes", "DetectDeadlocks",
		"Threads", "Owners", "Size",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	tests := make([]string, 0, len(results))
	for test := range results {
		tests = append(tests, test)
	}
	sort.Strings(tests)

	for _, test := range tests {
		result := results[test]
		nsPerOp := math.Max(float64(result.NsPerOp()), 1)

		var p50, p99 float64
		var maxNs, samples int64
		if timer, ok := registry.Get(test).(metrics.Timer); ok {
			ps := timer.Percentiles([]float64{0.5, 0.99})
			p50, p99 = ps[0], ps[1]
			maxNs = timer.Max()
			samples = timer.Count()
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", p50),
			fmt.Sprintf("%.0f", p99),
			strconv.FormatInt(maxNs, 10),
			strconv.FormatInt(samples, 10),
			strconv.FormatUint(uint64(config.BucketBits), 10),
			strconv.FormatInt(config.MaxBytes, 10),
			strconv.FormatBool(config.DetectDeadlocks),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfOwners),
			strconv.Itoa(perfSize),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
