package decode

import (
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码："123" -> int、"true" -> bool 等。
	WeaklyTypedInput bool
	// 读取字段名所用的 struct tag（默认 json）。
	TagName string
}

// DefaultOptions 返回默认选项：严格类型，读取 json tag。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: false,
		TagName:          "json",
	}
}

// WithWeaklyTypedInput 便捷开关。
func WithWeaklyTypedInput(v bool) Options {
	o := DefaultOptions()
	o.WeaklyTypedInput = v
	return o
}

// Into decodes a generic map (as produced by a JSON or YAML parser) into out,
// which must be a non-nil pointer. Fields absent from src are left untouched.
func Into(src map[string]any, out any, opts ...Options) error {
	if src == nil {
		return fmt.Errorf("source map is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
		if cfg.TagName == "" {
			cfg.TagName = "json"
		}
	}

	decCfg := &mapstructure.DecoderConfig{
		TagName:          cfg.TagName,
		Result:           out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(src); err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	return nil
}

// DecodeMap 将 map 动态解码到任意结构体 T。
func DecodeMap[T any](src map[string]any, opts ...Options) (*T, error) {
	var out T
	if err := Into(src, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadString 从 map 中读取 string 字段。
func ReadString(src map[string]any, key string) (string, error) {
	v, ok := src[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q not string (got %T)", key, v)
	}
	return s, nil
}

// floatToIntHook：JSON 数字（float64）转整数；带小数部分的值报错。
func floatToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int, reflect.Int32, reflect.Int64:
		default:
			return data, nil
		}
		f := data.(float64)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		switch to {
		case reflect.Int:
			return int(f), nil
		case reflect.Int32:
			return int32(f), nil
		default:
			return int64(f), nil
		}
	}
}
