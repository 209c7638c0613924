// Package steps provides the general purpose steps plans are built from:
// constants, projections, per-row and whole-column functions, batched loads,
// side effects and list transforms.
package steps
