package complexity

import (
	"fmt"
	"strings"
)

// Dimension names a configured budget that admission control enforces.
type Dimension string

const (
	DimComplexity            Dimension = "max_complexity"
	DimDeferOperations       Dimension = "max_defer_operations"
	DimStreamOperations      Dimension = "max_stream_operations"
	DimDeferDepth            Dimension = "max_defer_depth"
	DimInitialComplexity     Dimension = "max_initial_complexity"
	DimChunkComplexity       Dimension = "max_chunk_complexity"
	DimStreamBatchComplexity Dimension = "max_stream_batch_complexity"
)

// LimitViolation reports one exceeded budget: the violated dimension, the
// computed value and the configured limit. It aborts the whole operation
// before any task executes. Per-chunk violations also carry the offending
// chunk's kind and label so clients can retarget their query.
type LimitViolation struct {
	Dimension Dimension
	Value     float64
	Limit     float64

	// ChunkKind and Label are set for per-chunk dimensions only.
	ChunkKind ChunkKind
	Label     string
}

func (v *LimitViolation) Error() string {
	switch v.Dimension {
	case DimInitialComplexity, DimChunkComplexity, DimStreamBatchComplexity:
		var b strings.Builder
		fmt.Fprintf(&b, "%s chunk", v.ChunkKind)
		if v.Label != "" {
			fmt.Fprintf(&b, " %q", v.Label)
		}
		fmt.Fprintf(&b, " exceeds %s: %v > %v", v.Dimension, v.Value, v.Limit)
		return b.String()
	default:
		return fmt.Sprintf("operation exceeds %s: %v > %v", v.Dimension, v.Value, v.Limit)
	}
}

// Extensions returns the violation in the shape embedded in GraphQL error
// extensions, for diagnostics and automated retries with adjusted budgets.
func (v *LimitViolation) Extensions() map[string]any {
	ext := map[string]any{
		"code":      "COMPLEXITY_LIMIT_EXCEEDED",
		"dimension": string(v.Dimension),
		"value":     v.Value,
		"limit":     v.Limit,
	}
	switch v.Dimension {
	case DimInitialComplexity, DimChunkComplexity, DimStreamBatchComplexity:
		ext["chunkKind"] = v.ChunkKind.String()
		if v.Label != "" {
			ext["label"] = v.Label
		}
	}
	return ext
}

// CheckLimits is the admission gate. Global budgets are checked first, then
// every chunk in report order; the first violation wins. A nil return admits
// the operation.
func CheckLimits(r *Report, cfg Config) *LimitViolation {
	if r.TotalComplexity > cfg.MaxComplexity {
		return &LimitViolation{Dimension: DimComplexity, Value: r.TotalComplexity, Limit: cfg.MaxComplexity}
	}
	if r.DeferCount > cfg.MaxDeferOperations {
		return &LimitViolation{Dimension: DimDeferOperations, Value: float64(r.DeferCount), Limit: float64(cfg.MaxDeferOperations)}
	}
	if r.StreamCount > cfg.MaxStreamOperations {
		return &LimitViolation{Dimension: DimStreamOperations, Value: float64(r.StreamCount), Limit: float64(cfg.MaxStreamOperations)}
	}
	if r.MaxDeferDepth > cfg.MaxDeferDepth {
		return &LimitViolation{Dimension: DimDeferDepth, Value: float64(r.MaxDeferDepth), Limit: float64(cfg.MaxDeferDepth)}
	}
	for _, c := range r.Chunks {
		if v := CheckChunkLimits(c, cfg); v != nil {
			return v
		}
	}
	return nil
}

// CheckChunkLimits checks one chunk against its per-kind budget. It is also
// the re-validation hook used together with AnalyzeChunk right before a
// deferred fragment resolves.
func CheckChunkLimits(c Chunk, cfg Config) *LimitViolation {
	var dim Dimension
	var limit float64
	switch c.Kind {
	case ChunkInitial:
		dim, limit = DimInitialComplexity, cfg.MaxInitialComplexity
	case ChunkDefer:
		dim, limit = DimChunkComplexity, cfg.MaxChunkComplexity
	case ChunkStream:
		dim, limit = DimStreamBatchComplexity, cfg.MaxStreamBatchComplexity
	default:
		return nil
	}
	if c.Complexity > limit {
		return &LimitViolation{
			Dimension: dim,
			Value:     c.Complexity,
			Limit:     limit,
			ChunkKind: c.Kind,
			Label:     c.Label,
		}
	}
	return nil
}
