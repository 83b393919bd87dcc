package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	body := []byte(`{"customerType":"B2B"}`)
	r, err := New(body, Meta{Source: "clicks", Partition: "0", Offset: 12})
	require.NoError(t, err)

	assert.NotEqual(t, [16]byte{}, [16]byte(r.ID))
	assert.True(t, r.IsJSON())
	assert.Equal(t, "clicks/0/12", r.Identity())
	assert.False(t, r.Arrival().IsZero())

	view := r.View()
	assert.Equal(t, "B2B", view["body"].(map[string]any)["customerType"])
	assert.Equal(t, float64(12), view["metadata"].(map[string]any)["offset"])
}

func TestRecordIsImmutable(t *testing.T) {
	body := []byte(`{"a":1}`)
	r := MustNew(body, Meta{Source: "s", Partition: "p", Offset: 1})

	body[2] = 'b'
	assert.Equal(t, `{"a":1}`, string(r.Body()))

	out := r.Body()
	out[0] = 'x'
	assert.Equal(t, `{"a":1}`, string(r.Body()))
}

func TestWithBodyKeepsIdentity(t *testing.T) {
	r := MustNew([]byte(`{"id":1}`), Meta{Source: "tickets", Partition: "queue", Offset: 4, Attributes: map[string]string{"k": "v"}})
	enriched := r.WithBody([]byte(`{"id":1,"title":"x"}`))

	assert.Equal(t, r.ID, enriched.ID)
	assert.Equal(t, r.Identity(), enriched.Identity())
	assert.Equal(t, `{"id":1}`, string(r.Body()))
	assert.Equal(t, "x", enriched.View()["body"].(map[string]any)["title"])
	v, ok := enriched.Attribute("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestNonJSONBody(t *testing.T) {
	r := MustNew([]byte("plain text"), Meta{Source: "s", Partition: "0"})
	assert.False(t, r.IsJSON())
	assert.Nil(t, r.View()["body"])
}

func TestBatchLastOffset(t *testing.T) {
	b := Batch{Partition: "0", Records: []Record{
		MustNew(nil, Meta{Offset: 5}),
		MustNew(nil, Meta{Offset: 9}),
		MustNew(nil, Meta{Offset: 7}),
	}}
	assert.Equal(t, int64(9), b.LastOffset())
	assert.Equal(t, int64(-1), Batch{}.LastOffset())
	assert.True(t, b.Subset(nil).Empty())
}
