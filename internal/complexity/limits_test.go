package complexity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permissiveConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxComplexity = 1e9
	cfg.MaxDeferOperations = 1000
	cfg.MaxStreamOperations = 1000
	cfg.MaxDeferDepth = 100
	cfg.MaxInitialComplexity = 1e9
	cfg.MaxChunkComplexity = 1e9
	cfg.MaxStreamBatchComplexity = 1e9
	return cfg
}

func TestCheckLimits_Admits(t *testing.T) {
	r := &Report{
		TotalComplexity: 40,
		DeferCount:      1,
		MaxDeferDepth:   1,
		Chunks: []Chunk{
			{Kind: ChunkDefer, Label: "A", Complexity: 30},
			{Kind: ChunkInitial, Complexity: 10},
		},
	}
	assert.Nil(t, CheckLimits(r, DefaultConfig()))
}

func TestCheckLimits_GlobalBeforePerChunk(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxComplexity = 100
	cfg.MaxChunkComplexity = 100

	// Both the total and a chunk violate; the global dimension must win.
	r := &Report{
		TotalComplexity: 200,
		Chunks:          []Chunk{{Kind: ChunkDefer, Label: "A", Complexity: 150}},
	}
	v := CheckLimits(r, cfg)
	require.NotNil(t, v)
	assert.Equal(t, DimComplexity, v.Dimension)
	assert.Equal(t, 200.0, v.Value)
	assert.Equal(t, 100.0, v.Limit)
}

func TestCheckLimits_DeferTooDeep(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxDeferDepth = 2

	r := &Report{MaxDeferDepth: 3}
	v := CheckLimits(r, cfg)
	require.NotNil(t, v)
	assert.Equal(t, DimDeferDepth, v.Dimension)
	assert.Equal(t, 3.0, v.Value)
	assert.Equal(t, 2.0, v.Limit)
}

func TestCheckLimits_TooManyStreams(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxStreamOperations = 1

	v := CheckLimits(&Report{StreamCount: 2}, cfg)
	require.NotNil(t, v)
	assert.Equal(t, DimStreamOperations, v.Dimension)
}

// A deferred chunk of cost 150 against max_chunk_complexity 100 must name
// the kind, the label, the computed value and the configured limit.
func TestCheckChunkLimits_DeferChunkTooComplex(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxChunkComplexity = 100

	v := CheckChunkLimits(Chunk{Kind: ChunkDefer, Label: "heavy", Complexity: 150}, cfg)
	require.NotNil(t, v)
	assert.Equal(t, DimChunkComplexity, v.Dimension)
	assert.Equal(t, ChunkDefer, v.ChunkKind)
	assert.Equal(t, "heavy", v.Label)
	assert.Equal(t, 150.0, v.Value)
	assert.Equal(t, 100.0, v.Limit)

	msg := v.Error()
	for _, want := range []string{"Defer", "heavy", "150", "100"} {
		assert.True(t, strings.Contains(msg, want), "message %q missing %q", msg, want)
	}
}

func TestCheckChunkLimits_InitialTooComplex(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxInitialComplexity = 10

	v := CheckChunkLimits(Chunk{Kind: ChunkInitial, Complexity: 20}, cfg)
	require.NotNil(t, v)
	assert.Equal(t, DimInitialComplexity, v.Dimension)
}

func TestCheckChunkLimits_StreamBatchTooComplex(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxStreamBatchComplexity = 10

	v := CheckChunkLimits(Chunk{Kind: ChunkStream, Label: "P", Complexity: 11}, cfg)
	require.NotNil(t, v)
	assert.Equal(t, DimStreamBatchComplexity, v.Dimension)
	assert.Equal(t, "P", v.Label)
}

func TestLimitViolation_Extensions(t *testing.T) {
	v := &LimitViolation{
		Dimension: DimChunkComplexity,
		Value:     150,
		Limit:     100,
		ChunkKind: ChunkDefer,
		Label:     "heavy",
	}
	ext := v.Extensions()
	assert.Equal(t, "max_chunk_complexity", ext["dimension"])
	assert.Equal(t, 150.0, ext["value"])
	assert.Equal(t, 100.0, ext["limit"])
	assert.Equal(t, "Defer", ext["chunkKind"])
	assert.Equal(t, "heavy", ext["label"])
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.FieldCost = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxDeferDepth = -1
	assert.Error(t, bad.Validate())

	slackless := DefaultConfig()
	slackless.StreamItemSlack = 0
	assert.NoError(t, slackless.Validate())
}
