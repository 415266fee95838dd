package manifest

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Templater is implemented by fixture values that expose more to manifest
// commands and expressions than their JSON form, such as secrets.
type Templater interface {
	TemplateMap() map[string]any
}

// templateData converts fixture values into the maps, slices and scalars
// that templates and CEL can address. Go values are exposed through
// TemplateMap when they implement Templater, otherwise through their JSON
// form, so fields are addressed by their json names.
func templateData(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = templateValue(v)
	}
	return out
}

func templateValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64, map[string]string:
		return v
	case Templater:
		return templateData(t.TemplateMap())
	case map[string]any:
		return templateData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = templateValue(e)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = templateValue(rv.Index(i).Interface())
		}
		return out
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data)
	}
	return decoded
}
