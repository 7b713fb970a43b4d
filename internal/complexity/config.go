package complexity

import "fmt"

// Config holds every cost weight and admission budget used by the analyzer.
// All fields are explicit; there are no implicit defaults beyond what
// DefaultConfig enumerates. Validate before use.
type Config struct {
	// FieldCost is the base cost charged for every field visited.
	FieldCost float64
	// ListCost is added on top of FieldCost for list-typed fields.
	ListCost float64
	// DeferMultiplier scales the accumulated cost of a deferred fragment.
	DeferMultiplier float64
	// NestedDeferMultiplier replaces DeferMultiplier when the fragment sits
	// inside another deferred fragment (defer depth > 1).
	NestedDeferMultiplier float64
	// StreamMultiplier scales the cost of a streamed field's chunk.
	StreamMultiplier float64
	// StreamItemSlack is added to a streamed field's declared initialCount to
	// estimate total item volume, since the real list length is unknown
	// before resolution.
	StreamItemSlack int

	// MaxComplexity caps the total complexity of the whole operation.
	MaxComplexity float64
	// MaxDeferOperations caps the number of deferred fragments.
	MaxDeferOperations int
	// MaxStreamOperations caps the number of streamed fields.
	MaxStreamOperations int
	// MaxDeferDepth caps how deeply deferred fragments may nest.
	MaxDeferDepth int
	// MaxInitialComplexity caps the non-deferred remainder of the document.
	MaxInitialComplexity float64
	// MaxChunkComplexity caps each deferred fragment's chunk.
	MaxChunkComplexity float64
	// MaxStreamBatchComplexity caps each streamed field's chunk.
	MaxStreamBatchComplexity float64
}

// DefaultConfig returns the budgets applied when the embedder does not
// supply its own.
func DefaultConfig() Config {
	return Config{
		FieldCost:                1,
		ListCost:                 10,
		DeferMultiplier:          1.5,
		NestedDeferMultiplier:    2,
		StreamMultiplier:         2,
		StreamItemSlack:          50,
		MaxComplexity:            1000,
		MaxDeferOperations:       10,
		MaxStreamOperations:      10,
		MaxDeferDepth:            3,
		MaxInitialComplexity:     500,
		MaxChunkComplexity:       300,
		MaxStreamBatchComplexity: 200,
	}
}

// Validate rejects configurations at construction time rather than at first
// use. Every cost, multiplier and budget must be positive; StreamItemSlack
// may be zero.
func (c Config) Validate() error {
	checks := []struct {
		name string
		ok   bool
	}{
		{"FieldCost", c.FieldCost > 0},
		{"ListCost", c.ListCost > 0},
		{"DeferMultiplier", c.DeferMultiplier > 0},
		{"NestedDeferMultiplier", c.NestedDeferMultiplier > 0},
		{"StreamMultiplier", c.StreamMultiplier > 0},
		{"StreamItemSlack", c.StreamItemSlack >= 0},
		{"MaxComplexity", c.MaxComplexity > 0},
		{"MaxDeferOperations", c.MaxDeferOperations > 0},
		{"MaxStreamOperations", c.MaxStreamOperations > 0},
		{"MaxDeferDepth", c.MaxDeferDepth > 0},
		{"MaxInitialComplexity", c.MaxInitialComplexity > 0},
		{"MaxChunkComplexity", c.MaxChunkComplexity > 0},
		{"MaxStreamBatchComplexity", c.MaxStreamBatchComplexity > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("complexity config: %s must be positive", chk.name)
		}
	}
	return nil
}
