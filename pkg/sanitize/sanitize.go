// Package sanitize replaces non-finite floats before results leave the
// pipeline. JSON cannot represent NaN or infinities, and a result that
// carries them must not reach a consumer.
package sanitize

import (
	"encoding"
	"encoding/json"
	"math"
	"reflect"
	"strings"

	"parkinson-voice/pkg/models"
)

// Float returns 0 for NaN and ±Inf and f otherwise.
func Float(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Floats returns a sanitized copy of v.
func Floats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = Float(f)
	}
	return out
}

// Result returns a copy of r with every float sanitized.
func Result(r models.FusionResult) models.FusionResult {
	r.PAudio = Float(r.PAudio)
	r.PBridge = Float(r.PBridge)
	r.PFusion = Float(r.PFusion)
	r.PCAFeatures = Floats(r.PCAFeatures)
	return r
}

// Value sanitizes an arbitrary structure. Slices and arrays become []any,
// maps with string keys and structs become map[string]any (struct fields
// keyed as encoding/json would name them), pointers and interfaces are
// followed, and floats are passed through Float. Byte slices and values
// that marshal themselves are returned unchanged, as is everything else.
func Value(v any) any {
	if v == nil {
		return nil
	}
	return value(reflect.ValueOf(v))
}

var (
	jsonMarshaler = reflect.TypeFor[json.Marshaler]()
	textMarshaler = reflect.TypeFor[encoding.TextMarshaler]()
)

func value(rv reflect.Value) any {
	if rv.Kind() == reflect.Struct && (rv.Type().Implements(jsonMarshaler) || rv.Type().Implements(textMarshaler)) {
		return rv.Interface()
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float())
	case reflect.Slice:
		if rv.IsNil() || rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = value(rv.Index(i))
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = value(iter.Value())
		}
		return out
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		fields(rv, out)
		return out
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return value(rv.Elem())
	case reflect.Invalid:
		return nil
	}
	return rv.Interface()
}

// fields copies the exported fields of the struct rv into out. Untagged
// embedded structs are flattened, "-" fields are skipped and omitempty
// fields are dropped when zero.
func fields(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				ft, fv = ft.Elem(), fv.Elem()
			}
			if ft.Kind() == reflect.Struct {
				fields(fv, out)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if strings.Contains(opts, "omitempty") && fv.IsZero() {
			continue
		}
		out[name] = value(fv)
	}
}
