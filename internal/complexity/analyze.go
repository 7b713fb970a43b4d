package complexity

import (
	"fmt"
	"strconv"

	language "github.com/hanpama/streamgraph/internal/language"
)

// ChunkKind identifies the admission-control unit a Chunk describes.
type ChunkKind int

const (
	// ChunkInitial is the non-deferred, non-streamed remainder of the document.
	ChunkInitial ChunkKind = iota
	// ChunkDefer is one deferred fragment.
	ChunkDefer
	// ChunkStream is one streamed field.
	ChunkStream
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkInitial:
		return "Initial"
	case ChunkDefer:
		return "Defer"
	case ChunkStream:
		return "Stream"
	default:
		return fmt.Sprintf("ChunkKind(%d)", int(k))
	}
}

// Chunk is one admission-relevant unit of estimated cost.
type Chunk struct {
	Kind       ChunkKind
	Label      string
	Path       []string
	Complexity float64
}

// Report is the analyzer's output for one operation.
type Report struct {
	TotalComplexity       float64
	DeferCount            int
	StreamCount           int
	MaxDeferDepth         int
	EstimatedPayloadCount int
	Chunks                []Chunk
}

// Analyze walks the named operation of doc and computes multi-dimensional
// cost estimates before any resolver runs. The traversal is deterministic:
// identical document+config inputs produce identical reports.
//
// List detection uses the field's attached definition when the document was
// loaded through a validating parser; a field carrying @stream is always
// treated as list-typed.
func Analyze(doc *language.QueryDocument, operationName string, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	op := doc.Operations.ForName(operationName)
	if op == nil && operationName == "" && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return nil, fmt.Errorf("operation %q not found", operationName)
	}

	a := &analysis{cfg: cfg, doc: doc, expanding: map[string]bool{}}
	residual := a.walk(op.SelectionSet, nil, 0)
	a.chunks = append(a.chunks, Chunk{Kind: ChunkInitial, Complexity: residual})

	r := &Report{
		DeferCount:            a.deferCount,
		StreamCount:           a.streamCount,
		MaxDeferDepth:         a.maxDeferDepth,
		EstimatedPayloadCount: 1 + a.deferCount + a.streamCount,
		Chunks:                a.chunks,
	}
	for _, c := range r.Chunks {
		r.TotalComplexity += c.Complexity
	}
	return r, nil
}

// AnalyzeChunk re-runs the traversal scoped to a single node. It exists for
// defense-in-depth: callers re-validate a deferred fragment's chunk against
// CheckChunkLimits immediately before resolving it, guarding against
// resolvers returning larger-than-estimated data. deferDepth is the defer
// nesting already in effect at the node.
func AnalyzeChunk(doc *language.QueryDocument, node language.Selection, deferDepth int, cfg Config) (Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return Chunk{}, err
	}
	a := &analysis{cfg: cfg, doc: doc, expanding: map[string]bool{}}
	residual := a.walk(language.SelectionSet{node}, nil, deferDepth)
	if n := len(a.chunks); n > 0 {
		// The node's own chunk closes last (inner chunks close first).
		return a.chunks[n-1], nil
	}
	return Chunk{Kind: ChunkInitial, Complexity: residual}, nil
}

type analysis struct {
	cfg           Config
	doc           *language.QueryDocument
	chunks        []Chunk
	deferCount    int
	streamCount   int
	maxDeferDepth int
	// expanding guards against fragment spread cycles on the current branch.
	expanding map[string]bool
}

// walk accumulates the cost of the current chunk and returns it. Deferred
// fragments and streamed fields open their own chunks and contribute nothing
// to the caller's running total.
func (a *analysis) walk(sel language.SelectionSet, path []string, deferDepth int) float64 {
	var total float64
	for _, s := range sel {
		switch node := s.(type) {
		case *language.Field:
			total += a.walkField(node, path, deferDepth)
		case *language.InlineFragment:
			if d := deferDirective(node.Directives); d != nil {
				a.openDeferChunk(node.SelectionSet, labelArg(d), path, deferDepth)
				continue
			}
			total += a.walk(node.SelectionSet, path, deferDepth)
		case *language.FragmentSpread:
			frag := a.doc.Fragments.ForName(node.Name)
			if frag == nil || a.expanding[node.Name] {
				continue
			}
			a.expanding[node.Name] = true
			if d := deferDirective(node.Directives); d != nil {
				a.openDeferChunk(frag.SelectionSet, labelArg(d), path, deferDepth)
			} else {
				total += a.walk(frag.SelectionSet, path, deferDepth)
			}
			delete(a.expanding, node.Name)
		}
	}
	return total
}

func (a *analysis) walkField(f *language.Field, path []string, deferDepth int) float64 {
	fieldPath := appendSegment(path, responseName(f))
	stream := streamDirective(f.Directives)

	base := a.cfg.FieldCost
	if stream != nil || isListField(f) {
		base += a.cfg.ListCost
	}
	nested := a.walk(f.SelectionSet, fieldPath, deferDepth)

	if stream == nil {
		return base + nested
	}

	// A streamed field is its own standalone chunk at the point it is
	// visited; estimated volume is the declared initial batch plus slack for
	// the unknown remainder.
	a.streamCount++
	estimatedItems := initialCountArg(stream) + a.cfg.StreamItemSlack
	cost := (base + nested) * a.cfg.StreamMultiplier * (1 + float64(estimatedItems)/100)
	a.chunks = append(a.chunks, Chunk{
		Kind:       ChunkStream,
		Label:      labelArg(stream),
		Path:       fieldPath,
		Complexity: cost,
	})
	return 0
}

func (a *analysis) openDeferChunk(sel language.SelectionSet, label string, path []string, parentDepth int) {
	depth := parentDepth + 1
	a.deferCount++
	if depth > a.maxDeferDepth {
		a.maxDeferDepth = depth
	}
	multiplier := a.cfg.DeferMultiplier
	if depth > 1 {
		multiplier = a.cfg.NestedDeferMultiplier
	}
	cost := a.walk(sel, path, depth) * multiplier
	a.chunks = append(a.chunks, Chunk{
		Kind:       ChunkDefer,
		Label:      label,
		Path:       path,
		Complexity: cost,
	})
}

// deferDirective returns the active @defer directive, honoring a literal
// if: false. Variable-valued conditions are assumed active; static analysis
// cannot resolve them.
func deferDirective(ds language.DirectiveList) *language.Directive {
	return activeDirective(ds, "defer")
}

func streamDirective(ds language.DirectiveList) *language.Directive {
	return activeDirective(ds, "stream")
}

func activeDirective(ds language.DirectiveList, name string) *language.Directive {
	d := ds.ForName(name)
	if d == nil {
		return nil
	}
	if arg := d.Arguments.ForName("if"); arg != nil && arg.Value != nil {
		if arg.Value.Kind == language.BooleanValue && arg.Value.Raw == "false" {
			return nil
		}
	}
	return d
}

func labelArg(d *language.Directive) string {
	if arg := d.Arguments.ForName("label"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return ""
}

func initialCountArg(d *language.Directive) int {
	arg := d.Arguments.ForName("initialCount")
	if arg == nil || arg.Value == nil || arg.Value.Kind != language.IntValue {
		return 0
	}
	n, err := strconv.Atoi(arg.Value.Raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func isListField(f *language.Field) bool {
	if f.Definition == nil || f.Definition.Type == nil {
		return false
	}
	t := f.Definition.Type
	return t.NamedType == "" && t.Elem != nil
}

func responseName(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func appendSegment(path []string, seg string) []string {
	out := make([]string, len(path)+1)
	copy(out, path)
	out[len(path)] = seg
	return out
}
