// Package util provides small building blocks shared by the shadow store
// implementation and its tooling.
//
// The package contains:
//   - functions: seed generation and the owner address hash used for bucket selection
//   - statistics: distribution statistics for hashtable chains and a lock-free
//     SizeHistogram for tracking shadow data sizes
//
// Nothing in this package knows about shadow variables; callers pass plain
// numbers and addresses.
package util
