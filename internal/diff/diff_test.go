package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/journal/domain"
)

func schema(t *testing.T) *domain.Schema {
	t.Helper()
	s, err := domain.DefaultRegistry().Lookup(domain.KindWorkPackage)
	require.NoError(t, err)
	return s
}

func snap(attrs map[string]any, assocs domain.Associations) *domain.Snapshot {
	return &domain.Snapshot{Attributes: attrs, Associations: assocs}
}

func TestDiff_Initial(t *testing.T) {
	cur := snap(map[string]any{
		"subject":     "Ship it",
		"description": "",
		"status_id":   int64(1),
		"category_id": nil,
	}, domain.Associations{
		"attachments":   {{Key: 4, Value: "a.png"}},
		"custom_fields": {{Key: 2, Value: "x"}, {Key: 3, Value: ""}},
	})

	cs := Diff(schema(t), nil, cur)

	assert.Equal(t, domain.ChangeSet{
		"subject":         {Old: nil, New: "Ship it"},
		"status_id":       {Old: nil, New: int64(1)},
		"attachments_4":   {Old: nil, New: "a.png"},
		"custom_fields_2": {Old: nil, New: "x"},
	}, cs)
}

func TestDiff_LineEndingsAreNoise(t *testing.T) {
	prev := snap(map[string]any{"description": "Hello\nWorld", "status_id": int64(1)}, nil)
	cur := snap(map[string]any{"description": "Hello\r\nWorld", "status_id": int64(1)}, nil)

	cs := Diff(schema(t), prev, cur)
	assert.False(t, cs.IsChanged())

	cur.Attributes["status_id"] = int64(2)
	cs = Diff(schema(t), prev, cur)
	assert.Equal(t, domain.ChangeSet{"status_id": {Old: int64(1), New: int64(2)}}, cs)
}

func TestDiff_BlankAndNull(t *testing.T) {
	tests := []struct {
		name    string
		old     any
		new     any
		changed bool
	}{
		{"null to blank", nil, "", false},
		{"blank to null", "", nil, false},
		{"null to text", nil, "text", true},
		{"blank to text", "", "text", true},
		{"text to null", "text", nil, true},
		{"text to blank", "text", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := Diff(schema(t),
				snap(map[string]any{"description": tt.old}, nil),
				snap(map[string]any{"description": tt.new}, nil))
			assert.Equal(t, tt.changed, cs.IsChanged())
		})
	}
}

func TestDiff_SkipsTechnicalAndUnjournaled(t *testing.T) {
	prev := snap(map[string]any{"lock_version": int64(1), "updated_at": "a"}, nil)
	cur := snap(map[string]any{"lock_version": int64(2), "updated_at": "b"}, nil)
	assert.Empty(t, Diff(schema(t), prev, cur))
}

func TestDiff_SetAssociation(t *testing.T) {
	prev := snap(nil, domain.Associations{"attachments": {{Key: 1, Value: "a.png"}, {Key: 2, Value: "b.png\n"}}})
	cur := snap(nil, domain.Associations{"attachments": {{Key: 2, Value: "b.png"}, {Key: 3, Value: "c.png"}}})

	cs := Diff(schema(t), prev, cur)
	assert.Equal(t, domain.ChangeSet{
		"attachments_1": {Old: "a.png", New: nil},
		"attachments_3": {Old: nil, New: "c.png"},
	}, cs)
}

func TestDiff_KeyedAssociation(t *testing.T) {
	prev := snap(nil, domain.Associations{"custom_fields": {{Key: 1, Value: "old"}, {Key: 2, Value: ""}, {Key: 3, Value: "gone"}}})
	cur := snap(nil, domain.Associations{"custom_fields": {{Key: 1, Value: "new"}, {Key: 2, Value: " "}}})

	cs := Diff(schema(t), prev, cur)
	assert.Equal(t, domain.ChangeSet{
		"custom_fields_1": {Old: "old", New: "new"},
		"custom_fields_3": {Old: "gone", New: nil},
	}, cs)
}

func TestDiff_CombinedNoiseAndRealChange(t *testing.T) {
	prev := snap(map[string]any{"description": "a\nb", "subject": "x"},
		domain.Associations{"attachments": {{Key: 1, Value: "a.png"}}})
	cur := snap(map[string]any{"description": "a\r\nb", "subject": "x"},
		domain.Associations{"attachments": {{Key: 1, Value: "a.png\r\n"}, {Key: 2, Value: "b.png"}}})

	cs := Diff(schema(t), prev, cur)
	assert.Equal(t, []string{"attachments_2"}, cs.Keys())
}

func TestIdentical(t *testing.T) {
	s := schema(t)
	a := domain.ChangeSet{
		"description": {Old: nil, New: "a\nb"},
		"status_id":   {Old: nil, New: int64(1)},
	}
	b := domain.ChangeSet{
		"status_id":   {Old: nil, New: float64(1)},
		"description": {Old: "", New: "a\r\nb"},
	}
	assert.True(t, Identical(s, a, b))
	assert.Empty(t, Mismatch(s, a, b))

	b["priority_id"] = domain.Change{Old: nil, New: int64(2)}
	assert.False(t, Identical(s, a, b))
	assert.Equal(t, []string{"priority_id"}, Mismatch(s, a, b))

	delete(b, "priority_id")
	b["status_id"] = domain.Change{Old: nil, New: int64(3)}
	assert.False(t, Identical(s, a, b))
	assert.Equal(t, []string{"status_id"}, Mismatch(s, a, b))
}

func TestIdentical_TrailingNewline(t *testing.T) {
	s := schema(t)

	attr := domain.ChangeSet{"description": {Old: nil, New: "abc\n"}}
	trimmed := domain.ChangeSet{"description": {Old: nil, New: "abc"}}
	assert.False(t, Identical(s, attr, trimmed), "attribute values keep trailing newlines")
	assert.Equal(t, []string{"description"}, Mismatch(s, attr, trimmed))

	label := domain.ChangeSet{"attachments_4": {Old: nil, New: "a.png\n"}}
	plain := domain.ChangeSet{"attachments_4": {Old: nil, New: "a.png"}}
	assert.True(t, Identical(s, label, plain), "association labels ignore trailing newlines")
	assert.Empty(t, Mismatch(s, label, plain))
}
