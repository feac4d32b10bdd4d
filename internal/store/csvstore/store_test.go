package csvstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"fxtide/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandles(start time.Time, step time.Duration, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			Time:     start.Add(time.Duration(i) * step),
			Open:     1.08 + float64(i)*0.001,
			High:     1.09 + float64(i)*0.001,
			Low:      1.07 + float64(i)*0.001,
			Close:    1.085 + float64(i)*0.001,
			Volume:   int64(100 + i),
			Complete: true,
		}
	}
	return out
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := testCandles(start, time.Hour, 5)
	from, to := start, start.Add(24*time.Hour)

	path, err := store.Save(candles, "EUR_USD", market.GranH1, from, to)
	require.NoError(t, err)
	assert.Equal(t, "EUR_USD_H1_20240301_20240302.csv", filepath.Base(path))
	assert.Equal(t, "EUR_USD", filepath.Base(filepath.Dir(path)))

	// 元信息里的 Records 要和实际行数一致
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Records: 5")
	assert.Contains(t, string(raw), "# Instrument: EUR_USD")
	assert.Contains(t, string(raw), "# Granularity: H1")

	loaded, err := store.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	assert.Equal(t, candles[0].Time, loaded[0].Time)
	assert.Equal(t, candles[2].Open, loaded[2].Open)
	assert.Equal(t, candles[4].Close, loaded[4].Close)
	assert.Equal(t, candles[3].Volume, loaded[3].Volume)
	assert.True(t, loaded[0].Complete)
}

func TestSaveRejectsEmptySeries(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Save(nil, "EUR_USD", market.GranH1, time.Now(), time.Now())
	assert.Error(t, err)
}

func TestLoadNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorruptHeader(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "EUR_USD_H1_20240301_20240302.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,o,h,l,c\n"), 0o644))
	_, err = store.Load(path)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestLoadCorruptRow(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "bad.csv")
	content := "time,open,high,low,close,volume,complete\n2024-03-01T00:00:00Z,abc,1.09,1.07,1.085,100,true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err = store.Load(path)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestLoadRecordsMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "EUR_USD_H1_20240301_20240302.csv")
	content := "# Records: 3\n" +
		"time,open,high,low,close,volume,complete\n" +
		"2024-03-01T00:00:00Z,1.08,1.09,1.07,1.085,100,true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err = store.Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptData)
	assert.Contains(t, err.Error(), "declares 3 records")
}

func TestAppendDedupeIsIdempotent(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := testCandles(start, time.Hour, 6)
	path, err := store.Save(candles[:4], "EUR_USD", market.GranH1, start, start.Add(24*time.Hour))
	require.NoError(t, err)

	// 与已有数据有两根重叠，合并去重后应恰好是完整序列。
	_, err = store.Append(candles[2:], path, true)
	require.NoError(t, err)

	loaded, err := store.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 6)
	for i := 1; i < len(loaded); i++ {
		assert.True(t, loaded[i].Time.After(loaded[i-1].Time))
	}

	// 重复追加同一批不会增加记录。
	_, err = store.Append(candles[2:], path, true)
	require.NoError(t, err)
	loaded, err = store.Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded, 6)
}

func TestAppendDedupeKeepsLatestDuplicate(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	forming := testCandles(start, time.Hour, 1)
	forming[0].Complete = false
	path, err := store.Save(forming, "EUR_USD", market.GranH1, start, start.Add(time.Hour))
	require.NoError(t, err)

	settled := testCandles(start, time.Hour, 1)
	settled[0].Close = 1.0999
	_, err = store.Append(settled, path, true)
	require.NoError(t, err)

	loaded, err := store.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].Complete)
	assert.Equal(t, 1.0999, loaded[0].Close)
}

func TestCoverageReflectsActualRows(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	candles := testCandles(start, time.Hour, 3)
	// 文件名区间比实际数据宽得多。
	path, err := store.Save(candles, "GBP_USD", market.GranH1, start.AddDate(0, 0, -5), start.AddDate(0, 0, 5))
	require.NoError(t, err)

	min, max, err := store.Coverage(path)
	require.NoError(t, err)
	assert.Equal(t, start, min)
	assert.Equal(t, start.Add(2*time.Hour), max)
}

func TestList(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.Save(testCandles(start, time.Hour, 4), "EUR_USD", market.GranH1, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	_, err = store.Save(testCandles(start, 15*time.Minute, 8), "USD_JPY", market.GranM15, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)

	all, err := store.List("")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "EUR_USD", all[0].Instrument)
	assert.Equal(t, market.GranH1, all[0].Granularity)
	assert.Equal(t, 4, all[0].Records)
	assert.Equal(t, "USD_JPY", all[1].Instrument)
	assert.Equal(t, 8, all[1].Records)

	only, err := store.List("USD_JPY")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, market.GranM15, only[0].Granularity)
}

func TestParseFilenameUnderscoreInstrument(t *testing.T) {
	info, err := parseFilename("/data/EUR_USD/EUR_USD_M15_20240101_20240201.csv")
	require.NoError(t, err)
	assert.Equal(t, "EUR_USD", info.Instrument)
	assert.Equal(t, market.GranM15, info.Granularity)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), info.From)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), info.To)

	_, err = parseFilename("/data/whatever.csv")
	assert.Error(t, err)
}
