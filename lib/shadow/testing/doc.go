// Package testing provides standardised tests and benchmarks for
// shadow variable stores that satisfy the shadow.IStore interface.
//
// The package contains:
//   - testing: A comprehensive test suite for validating conformance to the IStore contract
//   - benchmark: Performance tests for measuring throughput of common store operations
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() shadow.IStore {
//		return NewMyStore()
//	}
//
//	// Running the standard test suite
//	shadowtesting.RunStoreTests(t, "MyStore", factory)
//
//	// Running performance benchmarks
//	shadowtesting.RunStoreBenchmarks(b, "MyStore", factory)
package testing
