package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)

	encoded := Encode(ts, "wev_abc123")
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, ts, cursor.Timestamp)
	assert.Equal(t, "wev_abc123", cursor.ID)
}

func TestDecodeEmptyMeansFirstPage(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not-base64!!!")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cursor")

	// Valid base64 but no separator.
	_, err = Decode("bm9waXBl") // "nopipe"
	assert.Error(t, err)
}

func TestComputePageUnderLimit(t *testing.T) {
	items := []string{"ent_1", "ent_2", "ent_3"}
	page, cursor, hasMore := ComputePage(items, 5, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePageOverflow(t *testing.T) {
	items := []string{"ent_1", "ent_2", "ent_3", "ent_4"}
	page, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), s
	})
	assert.Len(t, page, 3)
	assert.True(t, hasMore)

	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, "ent_3", c.ID)
}

func TestComputePageExactLimit(t *testing.T) {
	items := []string{"ent_1", "ent_2", "ent_3"}
	page, cursor, hasMore := ComputePage(items, 3, func(s string) (time.Time, string) {
		return time.Now(), s
	})
	assert.Len(t, page, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
