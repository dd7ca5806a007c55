package markets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTag(t *testing.T) {
	tests := []struct {
		question string
		tag      string
		text     string
	}{
		{"[Storm] Will a derecho hit Chicago?", "Storm", "Will a derecho hit Chicago?"},
		{"  [Rain]   Heavy rain in Paris?", "Rain", "Heavy rain in Paris?"},
		{"No tag here", "", "No tag here"},
		{"[] empty tag", "", "[] empty tag"},
		{"[unterminated tag", "", "[unterminated tag"},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			tag, text := SplitTag(tt.question)
			assert.Equal(t, tt.tag, tag)
			assert.Equal(t, tt.text, text)
		})
	}
}

func TestDeriveCategory(t *testing.T) {
	tests := []struct {
		question string
		expected Category
	}{
		{"[Flood] Will the Thames burst its banks?", CategoryFlood},
		{"[snow] Lowercase tags still count", CategorySnow},
		{"[Weather] Will it rain in Seattle?", CategoryRain},
		{"Will a tornado touch down in Kansas?", CategoryTornado},
		{"Will there be a Category 3+ Hurricane in Florida this month?", CategoryHurricane},
		{"Will a thunderstorm cancel the match?", CategoryStorm},
		{"Will rainfall exceed 3 inches?", CategoryRain},
		{"Will the terrain survey finish?", CategoryOther},
		{"Will a blizzard close JFK?", CategorySnow},
		{"Will California declare a drought emergency?", CategoryDrought},
		{"Will a wildfire reach Malibu?", CategoryWildfire},
		{"Will Tokyo experience an earthquake above 5.0 magnitude this week?", CategoryEarthquake},
		{"Will the stock market go up?", CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveCategory(tt.question))
		})
	}
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("hurricane")
	require.NoError(t, err)
	assert.Equal(t, CategoryHurricane, c)

	c, err = ParseCategory("All")
	require.NoError(t, err)
	assert.Equal(t, CategoryAll, c)

	_, err = ParseCategory("Volcano")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestTruncateCreator(t *testing.T) {
	assert.Equal(t, "0x1234ab...cdef", TruncateCreator("0x1234abcd5678ef90cdef"))
	assert.Equal(t, "short", TruncateCreator("short"))
	assert.Equal(t, "123456789012", TruncateCreator("123456789012"))
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]Side{"yes": SideYes, "YES": SideYes, "true": SideYes, "no": SideNo, " No ": SideNo, "false": SideNo} {
		got, err := ParseSide(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSide("")
	assert.ErrorIs(t, err, ErrMissingSelection)
	_, err = ParseSide("maybe")
	assert.ErrorIs(t, err, ErrMissingSelection)

	assert.True(t, SideYes.Bool())
	assert.False(t, SideNo.Bool())
	assert.Equal(t, SideNo, SideFromBool(false))
}

func TestFilter(t *testing.T) {
	list := []Market{
		{ID: "a", Category: CategoryRain},
		{ID: "b", Category: CategoryStorm},
		{ID: "c", Category: CategoryRain},
	}

	all := Filter(list, CategoryAll)
	assert.Equal(t, list, all)

	rain := Filter(list, CategoryRain)
	require.Len(t, rain, 2)
	assert.Equal(t, "a", rain[0].ID)
	assert.Equal(t, "c", rain[1].ID)

	none := Filter(list, CategoryEarthquake)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	assert.Equal(t, "b", list[1].ID, "source list untouched")
	assert.Len(t, list, 3)
}

func TestMarketHelpers(t *testing.T) {
	m := Market{
		Question: "[Rain] Will it pour?",
		YesPool:  decimal.NewFromInt(800),
		NoPool:   decimal.NewFromInt(600),
	}
	assert.Equal(t, "Will it pour?", m.DisplayQuestion())
	assert.True(t, decimal.NewFromInt(1400).Equal(m.TotalPool()))
	assert.True(t, m.Pool(SideYes).Equal(m.YesPool))
	assert.True(t, m.Pool(SideNo).Equal(m.NoPool))
	assert.Equal(t, int64(1700000000000), MicrosToMillis(1700000000000000))
}

func TestSeedBook(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	book := NewSeedBook(func() time.Time { return now })

	seeds := book.List()
	require.Len(t, seeds, 3)
	for _, s := range seeds {
		assert.Equal(t, SourceSeed, s.Source)
		assert.Equal(t, StatusActive, s.Status)
		assert.Greater(t, s.EndTime, now.UnixMilli())
	}

	updated, ok := book.AddToPool("seed_3", SideYes, decimal.NewFromInt(250))
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1050).Equal(updated.YesPool))

	got, ok := book.Get("seed_3")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(1050).Equal(got.YesPool))
	assert.True(t, decimal.NewFromInt(800).Equal(seeds[2].YesPool), "earlier copies are not mutated")

	_, ok = book.AddToPool("missing", SideNo, decimal.NewFromInt(1))
	assert.False(t, ok)
}

func TestSeedBookFollowsClock(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	book := NewSeedBook(func() time.Time { return now })

	before, ok := book.Get("seed_3")
	require.True(t, ok)
	assert.Equal(t, now.Add(12*time.Hour).UnixMilli(), before.EndTime)
	assert.Equal(t, now.Add(-6*time.Hour).UnixMilli(), before.CreatedAt)

	now = now.Add(8 * 24 * time.Hour)
	for _, s := range book.List() {
		assert.Greater(t, s.EndTime, now.UnixMilli(), s.ID)
	}
	after, _ := book.Get("seed_3")
	assert.Equal(t, now.Add(12*time.Hour).UnixMilli(), after.EndTime)
}

func TestParseQuestion(t *testing.T) {
	text, category := ParseQuestion("[Flood] Will the Thames burst its banks?")
	assert.Equal(t, "Will the Thames burst its banks?", text)
	assert.Equal(t, CategoryFlood, category)

	text, category = ParseQuestion("Will a tornado touch down in Kansas?")
	assert.Equal(t, "Will a tornado touch down in Kansas?", text)
	assert.Equal(t, CategoryTornado, category)
}
