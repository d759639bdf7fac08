package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync_server/pkg/apperr"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
		zone  string
	}{
		{"plain date", "2025-01-06", KindPlainDate, ""},
		{"instant", "2025-01-06T14:00:00Z", KindInstant, ""},
		{"instant with offset", "2025-01-06T09:00:00-05:00", KindInstant, ""},
		{"zoned with offset", "2025-01-06T09:00:00-05:00[America/New_York]", KindZoned, "America/New_York"},
		{"zoned without offset", "2025-01-06T09:00:00[America/New_York]", KindZoned, "America/New_York"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.zone, v.Zone())
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"garbage", "not-a-date"},
		{"unterminated zone", "2025-01-06T09:00:00[America/New_York"},
		{"unknown zone", "2025-01-06T09:00:00[Mars/Olympus_Mons]"},
		{"missing time", "2025-01-06T"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeParseError))
		})
	}
}

func TestNewPlainDate_Range(t *testing.T) {
	_, err := NewPlainDate(2025, 13, 1)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeRangeError))

	_, err = NewPlainDate(2025, time.February, 30)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeRangeError))

	_, err = NewPlainDate(2024, time.February, 29)
	assert.NoError(t, err, "leap day should be valid")
}

func TestToInstant(t *testing.T) {
	date, err := NewPlainDate(2025, time.January, 6)
	require.NoError(t, err)

	got, err := date.ToInstant("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06T05:00:00Z", got.Format(time.RFC3339),
		"midnight New York is 05:00 UTC in winter")

	instant := NewInstant(time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC))
	got, err = instant.ToInstant("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06T14:00:00Z", got.Format(time.RFC3339),
		"instant ignores the fallback zone")

	zoned, err := NewZonedWall(2025, time.January, 6, 9, 0, 0, "America/New_York")
	require.NoError(t, err)
	got, err = zoned.ToInstant("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06T14:00:00Z", got.Format(time.RFC3339),
		"zoned value carries its own zone")
}

func TestCompare(t *testing.T) {
	date, _ := NewPlainDate(2025, time.January, 6)
	zoned, _ := NewZonedWall(2025, time.January, 6, 9, 0, 0, "America/New_York")
	instant := NewInstant(time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC))

	c, err := Compare(date, zoned, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, -1, c, "midnight NY before 09:00 NY")

	c, err = Compare(zoned, instant, "UTC")
	require.NoError(t, err)
	assert.Equal(t, 0, c, "09:00 New York equals 14:00 UTC")

	_, err = Compare(date, instant, "Atlantis/Nowhere")
	require.Error(t, err)
}

func TestEqual_SameVariantOnly(t *testing.T) {
	zoned, _ := NewZonedWall(2025, time.January, 6, 9, 0, 0, "America/New_York")
	instant := NewInstant(time.Date(2025, 1, 6, 14, 0, 0, 0, time.UTC))

	// Same absolute moment, different variants: still unequal.
	assert.False(t, zoned.Equal(instant))
	assert.False(t, instant.Equal(zoned))

	other, _ := NewZonedWall(2025, time.January, 6, 9, 0, 0, "America/New_York")
	assert.True(t, zoned.Equal(other))

	d1, _ := NewPlainDate(2025, time.January, 6)
	d2, _ := NewPlainDate(2025, time.January, 6)
	d3, _ := NewPlainDate(2025, time.January, 7)
	assert.True(t, d1.Equal(d2))
	assert.False(t, d1.Equal(d3))
}

func TestSort(t *testing.T) {
	a := NewInstant(time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC))
	b, _ := NewPlainDate(2025, time.January, 6)
	c, _ := NewZonedWall(2025, time.January, 7, 9, 0, 0, "America/New_York")

	values := []Value{a, c, b}
	require.NoError(t, Sort(values, "UTC"))

	assert.Equal(t, "2025-01-06", values[0].String())
	assert.Equal(t, KindZoned, values[1].Kind())
	assert.Equal(t, KindInstant, values[2].Kind())
}

func TestJSONRoundTrip(t *testing.T) {
	tests := []string{
		"2025-01-06",
		"2025-01-06T14:00:00Z",
		"2025-01-06T09:00:00-05:00[America/New_York]",
	}

	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			v, err := Parse(s)
			require.NoError(t, err)

			data, err := v.MarshalJSON()
			require.NoError(t, err)

			var back Value
			require.NoError(t, back.UnmarshalJSON(data))
			assert.True(t, v.Equal(back))
		})
	}
}
