package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelops/recon-engine/engine"
)

func TestParseDay(t *testing.T) {
	day, err := engine.ParseDay("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", day.String())

	_, err = engine.ParseDay("15/03/2024")
	assert.Error(t, err)
}

func TestDayArithmetic(t *testing.T) {
	day := engine.NewDay(2024, time.March, 1)
	assert.Equal(t, "2024-02-29", day.Prev().String(), "leap year")
	assert.Equal(t, "2024-03-02", day.Next().String())
}

func TestPeriodValidateAndContains(t *testing.T) {
	period := engine.Period{
		Start: engine.NewDay(2024, time.March, 10),
		End:   engine.NewDay(2024, time.March, 20),
	}
	require.NoError(t, period.Validate())
	assert.True(t, period.Contains(engine.NewDay(2024, time.March, 10)))
	assert.True(t, period.Contains(engine.NewDay(2024, time.March, 20)))
	assert.False(t, period.Contains(engine.NewDay(2024, time.March, 21)))

	inverted := engine.Period{Start: period.End, End: period.Start}
	assert.ErrorIs(t, inverted.Validate(), engine.ErrInvalidPeriod)
}

func TestWeekOfIsMondayAnchored(t *testing.T) {
	// 2024-03-15 is a Friday.
	week := engine.WeekOf(engine.NewDay(2024, time.March, 15))
	assert.Equal(t, "2024-03-11", week.Start.String())
	assert.Equal(t, "2024-03-17", week.End.String())
	assert.Len(t, week.Days(), 7)
}

func TestMonthOf(t *testing.T) {
	month := engine.MonthOf(engine.NewDay(2024, time.February, 10))
	assert.Equal(t, "2024-02-01", month.Start.String())
	assert.Equal(t, "2024-02-29", month.End.String())
}

func TestPriceRecordCovers(t *testing.T) {
	from := engine.NewDay(2024, time.March, 1)
	to := engine.NewDay(2024, time.March, 31)
	price := engine.PriceRecord{EffectiveFrom: from, EffectiveTo: &to}

	assert.True(t, price.Covers(engine.NewDay(2024, time.March, 15)))
	assert.False(t, price.Covers(engine.NewDay(2024, time.April, 1)))

	openEnded := engine.PriceRecord{EffectiveFrom: from}
	assert.True(t, openEnded.Covers(engine.NewDay(2030, time.January, 1)))
}
