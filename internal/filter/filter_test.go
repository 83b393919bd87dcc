package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarungka/pipes/internal/models"
)

func customerRules(t *testing.T) RuleSet {
	t.Helper()
	rs, err := Compile([]map[string]any{
		{"body": map[string]any{"customerType": []any{"B2B", "B2C"}}},
	})
	require.NoError(t, err)
	return rs
}

func record(t *testing.T, body string, offset int64) models.Record {
	t.Helper()
	return models.MustNew([]byte(body), models.Meta{Source: "clicks", Partition: "0", Offset: offset})
}

func TestEvaluateCustomerType(t *testing.T) {
	rs := customerRules(t)

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"b2b passes", `{"customerType":"B2B"}`, true},
		{"b2c passes", `{"customerType":"B2C"}`, true},
		{"internal dropped", `{"customerType":"internal"}`, false},
		{"missing field fails", `{"other":"B2B"}`, false},
		{"case sensitive", `{"customerType":"b2b"}`, false},
		{"non json dropped", `B2B`, false},
		{"array value any member", `{"customerType":["internal","B2C"]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(record(t, tt.body, 1), rs))
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	rs := customerRules(t)
	r := record(t, `{"customerType":"B2B"}`, 1)
	first := Evaluate(r, rs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(r, rs))
	}
	assert.Equal(t, `{"customerType":"B2B"}`, string(r.Body()))
}

func TestAndWithinRuleOrAcrossRules(t *testing.T) {
	rs, err := Compile([]map[string]any{
		{"body": map[string]any{"customerType": []any{"B2B"}, "region": []any{"eu"}}},
		{"body": map[string]any{"priority": []any{1, 2}}},
	})
	require.NoError(t, err)

	assert.True(t, Evaluate(record(t, `{"customerType":"B2B","region":"eu"}`, 1), rs))
	assert.False(t, Evaluate(record(t, `{"customerType":"B2B","region":"us"}`, 1), rs))
	assert.True(t, Evaluate(record(t, `{"priority":2}`, 1), rs), "numbers from config match json numbers")
	assert.False(t, Evaluate(record(t, `{"priority":3}`, 1), rs))
}

func TestMetadataAndPrefix(t *testing.T) {
	rs, err := Compile([]map[string]any{
		{
			"metadata": map[string]any{"partition": []any{"0"}},
			"body":     map[string]any{"sku": []any{map[string]any{"prefix": "ab-"}}},
		},
	})
	require.NoError(t, err)

	assert.True(t, Evaluate(record(t, `{"sku":"ab-12"}`, 1), rs))
	assert.False(t, Evaluate(record(t, `{"sku":"cd-12"}`, 1), rs))
}

func TestEmptyRuleSetForwardsEverything(t *testing.T) {
	assert.True(t, Evaluate(record(t, `{}`, 1), RuleSet{}))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		pattern map[string]any
	}{
		{"empty pattern", map[string]any{}},
		{"scalar leaf", map[string]any{"body": map[string]any{"customerType": "B2B"}}},
		{"empty allowed", map[string]any{"body": map[string]any{"customerType": []any{}}}},
		{"nested array", map[string]any{"body": map[string]any{"x": []any{[]any{"a"}}}}},
		{"unknown object", map[string]any{"body": map[string]any{"x": []any{map[string]any{"suffix": "a"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile([]map[string]any{tt.pattern})
			assert.Error(t, err)
		})
	}
}

func TestApplyKeepsOrder(t *testing.T) {
	rs := customerRules(t)
	batch := models.Batch{Partition: "0", Ordered: true, Records: []models.Record{
		record(t, `{"customerType":"B2B"}`, 1),
		record(t, `{"customerType":"internal"}`, 2),
		record(t, `{"customerType":"B2C"}`, 3),
	}}

	kept, dropped := Apply(batch, rs)
	assert.Equal(t, 1, dropped)
	require.Equal(t, 2, kept.Len())
	assert.Equal(t, int64(1), kept.Records[0].Offset())
	assert.Equal(t, int64(3), kept.Records[1].Offset())
	assert.True(t, kept.Ordered)
}
