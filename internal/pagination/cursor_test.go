package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	id := "cl_abc123"

	encoded := Encode(ts, id)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.CreatedAt)
	assert.Equal(t, id, cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cursor")
}

func TestDecode_MalformedPayload(t *testing.T) {
	// Valid base64 but no | separator
	_, err := Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestComputePage_NoMore(t *testing.T) {
	items := []string{"a", "b", "c"}
	result, cursor, hasMore := ComputePage(items, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Equal(t, 3, len(result))
	assert.NotEmpty(t, cursor)
	assert.True(t, hasMore)

	// Verify cursor decodes to the last item
	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []string{"a", "b", "c"}
	result, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Equal(t, 3, len(result))
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestPage_ResumesAfterCursor(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	type row struct {
		id string
		at time.Time
	}
	items := []row{
		{"cl_1", base},
		{"cl_2", base.Add(time.Minute)},
		{"cl_3", base.Add(2 * time.Minute)},
		{"cl_4", base.Add(3 * time.Minute)},
	}
	key := func(r row) (time.Time, string) { return r.at, r.id }

	page, cursor, hasMore := Page(items, nil, 2, key)
	require.Equal(t, 2, len(page))
	assert.Equal(t, "cl_2", page[1].id)
	require.True(t, hasMore)

	cur, err := Decode(cursor)
	require.NoError(t, err)

	page, cursor, hasMore = Page(items, cur, 2, key)
	require.Equal(t, 2, len(page))
	assert.Equal(t, "cl_3", page[0].id)
	assert.Equal(t, "cl_4", page[1].id)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestPage_CursorPastEnd(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []string{"cl_1"}
	key := func(s string) (time.Time, string) { return base, s }

	page, cursor, hasMore := Page(items, &Cursor{CreatedAt: base.Add(time.Hour), ID: "cl_9"}, 10, key)
	assert.Empty(t, page)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestPage_TieBreakOnID(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []string{"cl_a", "cl_b", "cl_c"}
	key := func(s string) (time.Time, string) { return base, s }

	page, _, _ := Page(items, &Cursor{CreatedAt: base, ID: "cl_a"}, 10, key)
	require.Equal(t, 2, len(page))
	assert.Equal(t, "cl_b", page[0])
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 50, ParseLimit("", 50, 200))
	assert.Equal(t, 25, ParseLimit("25", 50, 200))
	assert.Equal(t, 200, ParseLimit("9999", 50, 200))
	assert.Equal(t, 50, ParseLimit("-3", 50, 200))
	assert.Equal(t, 50, ParseLimit("abc", 50, 200))
}
