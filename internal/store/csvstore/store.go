package csvstore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"fxtide/internal/logger"
	"fxtide/internal/market"
)

var (
	// ErrNotFound 数据文件不存在。
	ErrNotFound = errors.New("csvstore: dataset not found")
	// ErrCorruptData 文件结构与预期 schema 不符。
	ErrCorruptData = errors.New("csvstore: corrupt dataset")
)

const (
	headerColumns     = "time,open,high,low,close,volume,complete"
	filenameDate      = "20060102"
	metaRecordsPrefix = "# Records:"
)

// Store 以 {root}/{instrument}/{instrument}_{granularity}_{from}_{to}.csv
// 的布局保存 K 线数据集。文件头部是 "# " 前缀的元信息行。
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("csvstore: root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// DatasetInfo 描述一个已存在的数据文件。From/To 来自文件名，
// 是当初请求的区间，未必等于实际覆盖的时间跨度。
type DatasetInfo struct {
	Instrument  string
	Granularity market.Granularity
	From        time.Time
	To          time.Time
	Path        string
	Records     int
}

// Path 返回数据集的规范位置（不检查是否存在）。
func (s *Store) Path(instrument string, g market.Granularity, from, to time.Time) string {
	name := fmt.Sprintf("%s_%s_%s_%s.csv", instrument, g, from.UTC().Format(filenameDate), to.UTC().Format(filenameDate))
	return filepath.Join(s.root, instrument, name)
}

// Save 写入（或覆盖）数据集并返回文件位置。
func (s *Store) Save(candles []market.Candle, instrument string, g market.Granularity, from, to time.Time) (string, error) {
	if len(candles) == 0 {
		return "", fmt.Errorf("csvstore: refusing to save empty series")
	}
	path := s.Path(instrument, g, from, to)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	var b strings.Builder
	writeMeta := func(key, value string) {
		b.WriteString("# ")
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}
	writeMeta("Instrument", instrument)
	writeMeta("Granularity", g.String())
	writeMeta("Date Range", from.UTC().Format(filenameDate)+" to "+to.UTC().Format(filenameDate))
	writeMeta("Records", strconv.Itoa(len(candles)))
	writeMeta("Retrieved", time.Now().UTC().Format(time.RFC3339))
	writeMeta("Columns", headerColumns)
	b.WriteString(headerColumns)
	b.WriteByte('\n')
	for _, c := range candles {
		b.WriteString(c.Time.UTC().Format(time.RFC3339))
		b.WriteByte(',')
		b.WriteString(formatPrice(c.Open))
		b.WriteByte(',')
		b.WriteString(formatPrice(c.High))
		b.WriteByte(',')
		b.WriteString(formatPrice(c.Low))
		b.WriteByte(',')
		b.WriteString(formatPrice(c.Close))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(c.Volume, 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatBool(c.Complete))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	logger.Infof("saved %d records to %s", len(candles), path)
	return path, nil
}

// Load 解析数据文件为 K 线序列。
func (s *Store) Load(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer f.Close()

	var candles []market.Candle
	sawHeader := false
	metaRecords := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			if rest, ok := strings.CutPrefix(line, metaRecordsPrefix); ok {
				if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
					metaRecords = n
				}
			}
			continue
		}
		if !sawHeader {
			if line != headerColumns {
				return nil, fmt.Errorf("%w: unexpected column header %q in %s", ErrCorruptData, line, path)
			}
			sawHeader = true
			continue
		}
		c, err := parseRow(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptData, path, err)
		}
		candles = append(candles, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("%w: %s has no column header", ErrCorruptData, path)
	}
	// 元信息声明的行数与实际不符说明文件被截断或手改过
	if metaRecords >= 0 && metaRecords != len(candles) {
		return nil, fmt.Errorf("%w: %s metadata declares %d records, file has %d",
			ErrCorruptData, path, metaRecords, len(candles))
	}
	return candles, nil
}

// Append 把新序列合并进已有文件。dedupe=true 时同一时间戳只保留
// 新追加的那根（后拉取的更可能已完结），随后重排并重写整个文件。
func (s *Store) Append(candles []market.Candle, path string, dedupe bool) (string, error) {
	existing, err := s.Load(path)
	if err != nil {
		return "", err
	}
	combined := append(existing, candles...)
	if dedupe {
		before := len(combined)
		combined = market.SortDedupe(combined)
		if removed := before - len(combined); removed > 0 {
			logger.Infof("append removed %d duplicate records", removed)
		}
	} else {
		sort.SliceStable(combined, func(i, j int) bool {
			return combined[i].Time.Before(combined[j].Time)
		})
	}
	info, err := parseFilename(path)
	if err != nil {
		return "", err
	}
	return s.Save(combined, info.Instrument, info.Granularity, info.From, info.To)
}

// Coverage 返回文件中真实存在的最小/最大时间戳，与文件名编码的
// 请求区间无关（周末等休市时段两者会不一致）。
func (s *Store) Coverage(path string) (time.Time, time.Time, error) {
	candles, err := s.Load(path)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	min, max, ok := market.Span(candles)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s has no rows", ErrCorruptData, path)
	}
	return min, max, nil
}

// List 枚举已有数据集；instrument 为空时扫描全部目录。
func (s *Store) List(instrument string) ([]DatasetInfo, error) {
	var dirs []string
	if instrument != "" {
		dirs = []string{filepath.Join(s.root, instrument)}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(s.root, e.Name()))
			}
		}
	}
	var out []DatasetInfo
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
		if err != nil {
			return nil, err
		}
		for _, path := range matches {
			info, err := parseFilename(path)
			if err != nil {
				logger.Warnf("skipping %s: %v", path, err)
				continue
			}
			candles, err := s.Load(path)
			if err != nil {
				logger.Warnf("skipping %s: %v", path, err)
				continue
			}
			info.Records = len(candles)
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instrument != out[j].Instrument {
			return out[i].Instrument < out[j].Instrument
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func parseRow(line string) (market.Candle, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return market.Candle{}, fmt.Errorf("expected 7 columns, got %d", len(fields))
	}
	ts, err := time.Parse(time.RFC3339, fields[0])
	if err != nil {
		return market.Candle{}, fmt.Errorf("bad time %q: %v", fields[0], err)
	}
	nums := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("bad price %q: %v", fields[i+1], err)
		}
		nums[i] = v
	}
	volume, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("bad volume %q: %v", fields[5], err)
	}
	complete, err := strconv.ParseBool(fields[6])
	if err != nil {
		return market.Candle{}, fmt.Errorf("bad complete flag %q: %v", fields[6], err)
	}
	return market.Candle{
		Time:     ts.UTC(),
		Open:     nums[0],
		High:     nums[1],
		Low:      nums[2],
		Close:    nums[3],
		Volume:   volume,
		Complete: complete,
	}, nil
}

// 文件名形如 EUR_USD_H1_20240101_20240301.csv；instrument 自身可能
// 含下划线，因此从尾部取三段。
func parseFilename(path string) (DatasetInfo, error) {
	stem := strings.TrimSuffix(filepath.Base(path), ".csv")
	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return DatasetInfo{}, fmt.Errorf("unrecognized dataset filename %q", filepath.Base(path))
	}
	fromStr, toStr := parts[len(parts)-2], parts[len(parts)-1]
	granStr := parts[len(parts)-3]
	instrument := strings.Join(parts[:len(parts)-3], "_")
	g, err := market.ParseGranularity(granStr)
	if err != nil {
		return DatasetInfo{}, err
	}
	from, err := time.Parse(filenameDate, fromStr)
	if err != nil {
		return DatasetInfo{}, fmt.Errorf("bad from date %q", fromStr)
	}
	to, err := time.Parse(filenameDate, toStr)
	if err != nil {
		return DatasetInfo{}, fmt.Errorf("bad to date %q", toStr)
	}
	return DatasetInfo{
		Instrument:  instrument,
		Granularity: g,
		From:        from.UTC(),
		To:          to.UTC(),
		Path:        path,
	}, nil
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
