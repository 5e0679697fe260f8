package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/cobaltmail/dboxmap/internal/bytesize"
)

var byteSizeType = reflect.TypeOf(bytesize.ByteSize(0))

// bytesizeDecodeHook lets storage.rotate_size be written as "2MiB" in YAML
// or DBOXMAP_STORAGE_ROTATE_SIZE in the environment.
func bytesizeDecodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != byteSizeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return bytesize.ParseByteSize(v)
	case int:
		return bytesize.ByteSize(v), nil
	case int64:
		return bytesize.ByteSize(v), nil
	case float64:
		return bytesize.ByteSize(v), nil
	default:
		return data, nil
	}
}

var _ mapstructure.DecodeHookFuncType = bytesizeDecodeHook
