// Package complexity statically estimates the cost of a GraphQL operation
// before any resolver runs, and enforces configured budgets over it.
//
// The analyzer walks operation and fragment nodes recursively and charges a
// base cost per field (plus a surcharge for list-typed fields). Costs
// accumulate into chunks, the units admission control reasons about:
//
//   - The Initial chunk holds the residual cost of everything resolved with
//     the first payload.
//   - Entering a deferred fragment opens a fresh chunk; its accumulated cost
//     is scaled by DeferMultiplier (NestedDeferMultiplier once fragments
//     nest) and the chunk closes when the fragment is left.
//   - A streamed field becomes a standalone chunk where it is visited, scaled
//     by StreamMultiplier and by estimated item volume (declared initialCount
//     plus StreamItemSlack, since the true list length is unknown).
//
// CheckLimits applies global budgets (total complexity, defer/stream counts,
// defer depth) before per-chunk budgets, first violation wins, and every
// violation names the dimension, the computed value and the configured limit.
// AnalyzeChunk re-runs the traversal scoped to one node so callers can
// re-validate a deferred fragment immediately before resolving it.
//
// Analysis is pure and deterministic: no resolver is invoked, and identical
// document+config inputs yield identical reports.
package complexity
