// Package vm implements the tiered execution engine.
//
// This package contains:
//   - The bytecode interpreter (baseline tier)
//   - The hotspot profiler
//   - SSA-style IR, the bytecode to IR builder and the optimizer passes
//   - Code generation for the mock backend
//   - Deoptimization bookkeeping
//   - The VM coordinator and its persistent code cache
package vm
