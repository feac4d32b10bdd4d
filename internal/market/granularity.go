package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Granularity 是经纪商的 K 线周期码（如 M15、H1、D）。
type Granularity string

const (
	GranS5  Granularity = "S5"
	GranS10 Granularity = "S10"
	GranS15 Granularity = "S15"
	GranS30 Granularity = "S30"
	GranM1  Granularity = "M1"
	GranM2  Granularity = "M2"
	GranM4  Granularity = "M4"
	GranM5  Granularity = "M5"
	GranM10 Granularity = "M10"
	GranM15 Granularity = "M15"
	GranM30 Granularity = "M30"
	GranH1  Granularity = "H1"
	GranH2  Granularity = "H2"
	GranH3  Granularity = "H3"
	GranH4  Granularity = "H4"
	GranH6  Granularity = "H6"
	GranH8  Granularity = "H8"
	GranH12 Granularity = "H12"
	GranD   Granularity = "D"
	GranW   Granularity = "W"
	GranMo  Granularity = "M"
)

// 周期长度（秒）。周线/月线是名义值：月线长度不固定，
// 2592000 只作为分页步长的近似。
var granularitySeconds = map[Granularity]int64{
	GranS5:  5,
	GranS10: 10,
	GranS15: 15,
	GranS30: 30,
	GranM1:  60,
	GranM2:  120,
	GranM4:  240,
	GranM5:  300,
	GranM10: 600,
	GranM15: 900,
	GranM30: 1800,
	GranH1:  3600,
	GranH2:  7200,
	GranH3:  10800,
	GranH4:  14400,
	GranH6:  21600,
	GranH8:  28800,
	GranH12: 43200,
	GranD:   86400,
	GranW:   604800,
	GranMo:  2592000,
}

// ParseGranularity 校验并返回标准化的周期码。
// 码区分大小写敏感的约定：输入统一转大写（M1 与 m1 等价）。
func ParseGranularity(input string) (Granularity, error) {
	g := Granularity(strings.ToUpper(strings.TrimSpace(input)))
	if _, ok := granularitySeconds[g]; !ok {
		return "", fmt.Errorf("unsupported granularity: %s (supported: %s)",
			input, strings.Join(SupportedGranularities(), ", "))
	}
	return g, nil
}

// Seconds 返回周期的名义秒数。
func (g Granularity) Seconds() int64 {
	return granularitySeconds[g]
}

// Duration 返回周期的名义时长。
func (g Granularity) Duration() time.Duration {
	return time.Duration(g.Seconds()) * time.Second
}

func (g Granularity) String() string { return string(g) }

// SupportedGranularities 返回所有支持的周期码（排序后）。
func SupportedGranularities() []string {
	keys := make([]string, 0, len(granularitySeconds))
	for g := range granularitySeconds {
		keys = append(keys, string(g))
	}
	sort.Slice(keys, func(i, j int) bool {
		gi, gj := Granularity(keys[i]), Granularity(keys[j])
		if granularitySeconds[gi] != granularitySeconds[gj] {
			return granularitySeconds[gi] < granularitySeconds[gj]
		}
		return keys[i] < keys[j]
	})
	return keys
}
