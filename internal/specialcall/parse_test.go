package specialcall

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dominds/internal/store"
)

func args(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestParse_UnknownCallRejected(t *testing.T) {
	_, err := Parse(RawCall{CallID: "c1", Name: "doSomethingElse", Arguments: args(t, map[string]any{"tellaskContent": "hi"})})
	assert.ErrorIs(t, err, ErrUnknownCall)
}

func TestParse_RequiresTellaskContent(t *testing.T) {
	_, err := Parse(RawCall{CallID: "c1", Name: "askHuman", Arguments: args(t, map[string]any{})})
	assert.ErrorIs(t, err, ErrEmptyTellaskContent)

	_, err = Parse(RawCall{CallID: "c1", Name: "askHuman", Arguments: args(t, map[string]any{"tellaskContent": "   "})})
	assert.ErrorIs(t, err, ErrEmptyTellaskContent)
}

func TestParse_ArgumentsMustBeObject(t *testing.T) {
	_, err := Parse(RawCall{CallID: "c1", Name: "askHuman", Arguments: json.RawMessage(`"not an object"`)})
	assert.ErrorIs(t, err, ErrArgumentsNotObject)
}

func TestParse_Tellask(t *testing.T) {
	pc, err := Parse(RawCall{CallID: "c1", Name: "tellask", Arguments: args(t, map[string]any{
		"tellaskContent": "ping",
		"targetAgentId":  "@alice",
		"sessionSlug":    "build-loop",
	})})
	require.NoError(t, err)
	assert.Equal(t, store.CallTellask, pc.Name)
	assert.Equal(t, "alice", pc.TargetAgentID)
	assert.Equal(t, "build-loop", pc.SessionSlug)
}

func TestParse_TellaskAliases(t *testing.T) {
	pc, err := Parse(RawCall{CallID: "c1", Name: "tellaskSessionless", Arguments: args(t, map[string]any{
		"tellaskContent": "ping",
		"agentId":        "bob",
	})})
	require.NoError(t, err)
	assert.Equal(t, "bob", pc.TargetAgentID)
}

func TestParse_TellaskMissingTarget(t *testing.T) {
	_, err := Parse(RawCall{CallID: "c1", Name: "tellaskSessionless", Arguments: args(t, map[string]any{
		"tellaskContent": "ping",
	})})
	assert.ErrorIs(t, err, ErrMissingTargetAgent)
}

func TestParse_BadSessionSlug(t *testing.T) {
	_, err := Parse(RawCall{CallID: "c1", Name: "tellask", Arguments: args(t, map[string]any{
		"tellaskContent": "ping",
		"targetAgentId":  "alice",
		"sessionSlug":    "-bad-start",
	})})
	assert.ErrorIs(t, err, ErrBadSessionSlug)
}

func TestValidSessionSlug(t *testing.T) {
	cases := map[string]bool{
		"build-loop":      true,
		"build_loop":      true,
		"build.loop.v2":   true,
		"1build":          false,
		"":                false,
		"build..loop":     false,
		"Build-Loop.sub1": true,
	}
	for slug, want := range cases {
		assert.Equal(t, want, ValidSessionSlug(slug), slug)
	}
}

func TestParse_FreshBootsReasoningEffort(t *testing.T) {
	pc, err := Parse(RawCall{CallID: "c1", Name: "freshBootsReasoning", Arguments: args(t, map[string]any{
		"tellaskContent": "audit plan",
		"effort":         3,
	})})
	require.NoError(t, err)
	require.NotNil(t, pc.Effort)
	assert.Equal(t, 3, *pc.Effort)

	_, err = Parse(RawCall{CallID: "c1", Name: "freshBootsReasoning", Arguments: args(t, map[string]any{
		"tellaskContent": "audit plan",
		"effort":         101,
	})})
	assert.ErrorIs(t, err, ErrBadEffort)

	_, err = Parse(RawCall{CallID: "c1", Name: "freshBootsReasoning", Arguments: args(t, map[string]any{
		"tellaskContent": "audit plan",
		"effort":         2.5,
	})})
	assert.ErrorIs(t, err, ErrBadEffort)
}

func TestParseBatch_PartialFailureDoesNotBlockOthers(t *testing.T) {
	raws := []RawCall{
		{CallID: "c1", Name: "askHuman", Arguments: args(t, map[string]any{"tellaskContent": "A"})},
		{CallID: "c2", Name: "bogus", Arguments: args(t, map[string]any{})},
		{CallID: "c3", Name: "askHuman", Arguments: args(t, map[string]any{"tellaskContent": "B"})},
	}
	valid, issues := ParseBatch(raws)
	require.Len(t, valid, 2)
	require.Len(t, issues, 1)
	assert.Equal(t, "c2", issues[0].CallID)
}

func TestClassify(t *testing.T) {
	_, err := Classify(ParsedCall{Name: store.CallTellaskBack}, false)
	assert.ErrorIs(t, err, ErrTellaskBackFromRoot)

	ct, err := Classify(ParsedCall{Name: store.CallTellaskBack}, true)
	require.NoError(t, err)
	assert.Equal(t, store.CallTypeA, ct)

	ct, err = Classify(ParsedCall{Name: store.CallTellask}, false)
	require.NoError(t, err)
	assert.Equal(t, store.CallTypeB, ct)

	ct, err = Classify(ParsedCall{Name: store.CallTellaskSessionless}, false)
	require.NoError(t, err)
	assert.Equal(t, store.CallTypeC, ct)

	ct, err = Classify(ParsedCall{Name: store.CallFreshBootsReasoning}, false)
	require.NoError(t, err)
	assert.Equal(t, store.CallTypeC, ct)
}
