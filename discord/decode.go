package discord

import (
	"reflect"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/mitchellh/mapstructure"
)

var (
	snowflakeType   = reflect.TypeOf(snowflake.ID(0))
	timeType        = reflect.TypeOf(time.Time{})
	permissionsType = reflect.TypeOf(Permissions(0))
)

// decodeHook converts the string-typed fields of gateway/REST payloads into
// their typed counterparts. Nulls never reach the hook, mapstructure skips
// nil inputs, which is exactly the behavior wanted for nullable ids like
// channel_id.
func decodeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	str := data.(string)
	switch to {
	case snowflakeType:
		if str == "" {
			return snowflake.ID(0), nil
		}
		return snowflake.Parse(str)
	case timeType:
		if str == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339, str)
	case permissionsType:
		p := Permissions(0)
		if str == "" {
			return p, nil
		}
		err := p.UnmarshalJSON([]byte(`"` + str + `"`))
		return p, err
	}
	return data, nil
}

// decodeInto maps a decoded JSON object (map[string]interface{}) onto a typed
// struct using the struct's json tags.
func decodeInto(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       decodeHook,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
