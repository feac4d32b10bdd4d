package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileFile 策略参数档案：每个策略名对应一组参数覆盖。
type ProfileFile struct {
	Strategies map[string]map[string]any `yaml:"strategies"`
}

// LoadProfiles 读取 YAML 参数档案。文件不存在不算错误，当作空档案。
func LoadProfiles(path string) (*ProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProfileFile{Strategies: map[string]map[string]any{}}, nil
		}
		return nil, err
	}
	var pf ProfileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("strategy: parse profiles %s: %w", path, err)
	}
	if pf.Strategies == nil {
		pf.Strategies = map[string]map[string]any{}
	}
	return &pf, nil
}

// Build 按档案里的参数（可能为空）构造策略。
func (pf *ProfileFile) Build(name string) (Decider, error) {
	params := pf.Strategies[name]
	if params == nil {
		params = map[string]any{}
	}
	return New(name, params)
}
