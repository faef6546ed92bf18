package decode

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> int64、true -> 1 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// DecodeStruct 将一段 JSON 负载解码到任意结构体 T，字段读取使用 `json` tag。
// 空负载或 null 得到 T 的零值。
func DecodeStruct[T any](raw json.RawMessage, opts ...Options) (*T, error) {
	var out T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &out, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m any
	if err := dec.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "parse payload")
	}
	if err := Decode(m, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decode copies a generic JSON value (maps, slices, json.Number) into out.
func Decode(input any, out any, opts ...Options) error {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			jsonUnmarshalerHook(),
			numberToIntHook(),
			jsonRawStringToMapHook(),
		),
	}

	d, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return errors.Wrap(err, "new decoder")
	}
	if err := d.Decode(input); err != nil {
		return errors.Wrap(err, "decode payload")
	}
	return nil
}

// -----------------------------
// Decode Hooks
// -----------------------------

var unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()

// jsonUnmarshalerHook：目标类型自己实现了 json.Unmarshaler 时（如消息内容），
// 把原始值重新编码后交给它解析。
func jsonUnmarshalerHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to.Kind() == reflect.Interface || !reflect.PointerTo(to).Implements(unmarshalerType) {
			return data, nil
		}
		if from == to {
			return data, nil
		}
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		v := reflect.New(to)
		if err := json.Unmarshal(b, v.Interface()); err != nil {
			return nil, err
		}
		return v.Elem().Interface(), nil
	}
}

// numberToIntHook：把 float64 / json.Number（含 "20.0" 这类写法）转为整数。
func numberToIntHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		switch to.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		default:
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return int64(v), nil
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, nil
			}
			if f, err := v.Float64(); err == nil {
				return int64(f), nil
			}
		}
		return data, nil
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any（用于某些嵌套字符串 JSON 字段）。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
