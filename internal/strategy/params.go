package strategy

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeParams 把 YAML/JSON 解出的松散 map 填进策略参数结构体，
// 数字/字符串类型宽松转换，未知键视为拼写错误直接报错。
func decodeParams(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("strategy: invalid params: %w", err)
	}
	return nil
}
