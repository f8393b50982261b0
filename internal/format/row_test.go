package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/socialnorm/internal/domain"
)

var testFields = NewFieldSet(
	[]string{"id", "text", "count", "score", "verified", "links", "hashtags", "coordinates"},
	[]string{"links", "hashtags"},
	[]string{"verified"},
)

func TestRowFormatter(t *testing.T) {
	t.Parallel()

	r := domain.Record{
		"id":          "1",
		"text":        "hello",
		"count":       int64(3),
		"score":       1.5,
		"verified":    true,
		"links":       []string{"https://a.com", "https://b.com"},
		"hashtags":    []string{},
		"coordinates": []any{2.35, 48.85},
	}
	before := r.Clone()

	row, err := testFields.Formatter()(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "hello", "3", "1.5", "1", "https://a.com|https://b.com", "", "[2.35,48.85]"}, row)
	assert.Equal(t, before, r)
}

func TestRowFormatter_AbsentFieldsAreEmpty(t *testing.T) {
	t.Parallel()

	row, err := testFields.Formatter()(domain.Record{"id": "1", "verified": nil})
	require.NoError(t, err)
	require.Len(t, row, len(testFields.Fields))
	for _, cell := range row[1:] {
		assert.Equal(t, "", cell)
	}
}

func TestRowFormatter_Options(t *testing.T) {
	t.Parallel()

	r := domain.Record{
		"id":           "1",
		"links":        []string{"https://t.co/x"},
		"proper_links": []string{"https://resolved.com", "https://other.com"},
	}

	row, err := testFields.Formatter()(r, WithItemID("override"), WithSeparator(";"))
	require.NoError(t, err)
	assert.Equal(t, "override", row[0])
	assert.Equal(t, "https://resolved.com;https://other.com", row[5])
}

func TestRowFormatter_ErroneousPlural(t *testing.T) {
	t.Parallel()

	r := domain.Record{"hashtags": []any{"a", nil, "b"}}

	_, err := testFields.Formatter()(r)
	var pluralErr *domain.PluralFieldError
	require.ErrorAs(t, err, &pluralErr)
	assert.Equal(t, "hashtags", pluralErr.Field)
	assert.Equal(t, 1, pluralErr.Index)

	row, err := testFields.Formatter()(r, WithErroneousPlurals())
	require.NoError(t, err)
	assert.Equal(t, "a||b", row[6])
}

func TestRowMutator(t *testing.T) {
	t.Parallel()

	r := domain.Record{
		"id":       "1",
		"verified": false,
		"links":    []string{"https://a.com"},
	}

	require.NoError(t, testFields.Mutator()(r, WithItemID("2")))
	assert.Equal(t, domain.Record{
		"id":       "2",
		"verified": "",
		"links":    "https://a.com",
		"hashtags": "",
	}, r)

	// Already flattened records are left as they are.
	require.NoError(t, testFields.Mutator()(r))
	assert.Equal(t, "https://a.com", r["links"])
}

func TestScalar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{int64(-4), "-4"},
		{2.0, "2"},
		{false, "False"},
		{map[string]any{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		got, err := Scalar(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
