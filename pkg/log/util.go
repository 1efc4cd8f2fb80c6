package log

import (
	"fmt"

	"go.uber.org/zap"
)

// maxBinaryField 超过该长度的 []byte 只记录长度，避免固件块被整体写进日志。
const maxBinaryField = 64

// toFields converts loosely typed key/value arguments into zap fields.
//
// A bare error becomes zap.Error and a zap.Field passes through untouched.
// Everything else is consumed in pairs. A trailing unpaired value is kept
// under "arg#<index>" and a non-string key is preserved as "invalid_key_<n>".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		keyStr, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   key,
				"value": val,
			}))
			continue
		}
		fields = append(fields, valueField(keyStr, val))
	}

	return fields
}

func valueField(key string, val any) zap.Field {
	switch v := val.(type) {
	case error:
		return zap.NamedError(key, v)
	case []byte:
		if len(v) > maxBinaryField {
			return zap.String(key, fmt.Sprintf("<%d bytes>", len(v)))
		}
		return zap.Binary(key, v)
	default:
		// zap.Any picks the typed constructor for scalars, time and Stringer values.
		return zap.Any(key, v)
	}
}
