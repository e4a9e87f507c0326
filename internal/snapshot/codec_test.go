package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/journal/domain"
)

func workPackageSchema(t *testing.T) *domain.Schema {
	t.Helper()
	schema, err := domain.DefaultRegistry().Lookup(domain.KindWorkPackage)
	require.NoError(t, err)
	return schema
}

func sampleWorkPackage() *domain.WorkPackage {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	hours := 2.5
	return &domain.WorkPackage{
		ID:             7,
		LockVersion:    3,
		TypeID:         1,
		ProjectID:      2,
		Subject:        "Ship it",
		Description:    "Hello\r\nWorld",
		DueDate:        &due,
		StatusID:       10,
		PriorityID:     4,
		AuthorID:       42,
		EstimatedHours: &hours,
		UpdatedAt:      time.Now(),
	}
}

func TestTake_ExcludesTechnicalFields(t *testing.T) {
	snap, err := Take(workPackageSchema(t), sampleWorkPackage(), nil)
	require.NoError(t, err)

	for name := range domain.TechnicalFields {
		assert.NotContains(t, snap.Attributes, name)
	}
	assert.Equal(t, int64(10), snap.Attributes["status_id"])
	assert.Equal(t, "2024-03-01", snap.Attributes["due_date"])
	assert.Equal(t, 2.5, snap.Attributes["estimated_hours"])
	assert.Nil(t, snap.Attributes["category_id"])
	assert.Equal(t, "Hello\r\nWorld", snap.Attributes["description"], "stored value keeps original line endings")
}

func TestTake_RequiredNullIsMalformed(t *testing.T) {
	schema := workPackageSchema(t)
	wp := sampleWorkPackage()
	record := &domain.Record{
		Ref:        wp.JournalRef(),
		Attributes: wp.JournalAttributes(),
	}
	record.Attributes["subject"] = nil

	_, err := Take(schema, record, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedSnapshot)
}

func TestTake_UnknownAttributeIsMalformed(t *testing.T) {
	record := &domain.Record{
		Ref:        domain.Ref{Kind: domain.KindWorkPackage, ID: 1},
		Attributes: map[string]any{"subject": "x", "colour": "red"},
	}
	_, err := Take(workPackageSchema(t), record, nil)
	assert.ErrorIs(t, err, domain.ErrMalformedSnapshot)
}

func TestTake_SortsAndDedupesAssociations(t *testing.T) {
	snap, err := Take(workPackageSchema(t), sampleWorkPackage(), domain.Associations{
		"attachments": {{Key: 9, Value: "b.png"}, {Key: 3, Value: "a.png"}, {Key: 9, Value: "b.png"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.AssociationItem{{Key: 3, Value: "a.png"}, {Key: 9, Value: "b.png"}}, snap.Associations["attachments"])
	assert.Empty(t, snap.Associations["custom_fields"])

	_, err = Take(workPackageSchema(t), sampleWorkPackage(), domain.Associations{
		"custom_fields": {{Key: 1, Value: "a"}, {Key: 1, Value: "b"}},
	})
	assert.ErrorIs(t, err, domain.ErrMalformedSnapshot)
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("X", 3600))
	tests := []struct {
		name  string
		typ   domain.FieldType
		input any
		want  any
	}{
		{"int from string", domain.FieldInteger, "12", int64(12)},
		{"int from float", domain.FieldReference, float64(3), int64(3)},
		{"blank int", domain.FieldInteger, "", nil},
		{"bool from t", domain.FieldBoolean, "t", true},
		{"bool from zero", domain.FieldBoolean, 0, false},
		{"datetime in utc", domain.FieldDateTime, ts, "2024-05-06T06:08:09Z"},
		{"date from datetime string", domain.FieldDate, "2024-05-06T23:00:00Z", "2024-05-06"},
		{"decimal from float", domain.FieldDecimal, 1.5, "1.5"},
		{"nil pointer", domain.FieldString, (*string)(nil), nil},
		{"bytes", domain.FieldText, []byte("abc"), "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Coerce(domain.FieldInteger, 1.25)
	assert.Error(t, err)
	_, err = Coerce(domain.FieldString, 12)
	assert.Error(t, err)
}

func TestEncodeDecode_PreservesIntegers(t *testing.T) {
	schema := workPackageSchema(t)
	snap, err := Take(schema, sampleWorkPackage(), domain.Associations{
		"custom_fields": {{Key: 5, Value: "abc"}},
	})
	require.NoError(t, err)

	data, err := Encode(snap)
	require.NoError(t, err)
	decoded, err := Decode(schema, data)
	require.NoError(t, err)

	assert.Equal(t, snap.Attributes, decoded.Attributes)
	assert.Equal(t, int64(42), decoded.Attributes["author_id"])
	assert.Equal(t, snap.Associations["custom_fields"], decoded.Associations["custom_fields"])
}

func TestDecodeChangeSet(t *testing.T) {
	schema := workPackageSchema(t)
	data, err := EncodeChangeSet(domain.ChangeSet{
		"status_id":     {Old: int64(1), New: int64(2)},
		"attachments_3": {Old: nil, New: "a.png"},
	})
	require.NoError(t, err)

	cs, err := DecodeChangeSet(schema, data)
	require.NoError(t, err)
	assert.Equal(t, domain.Change{Old: int64(1), New: int64(2)}, cs["status_id"])
	assert.Equal(t, domain.Change{Old: nil, New: "a.png"}, cs["attachments_3"])
}
