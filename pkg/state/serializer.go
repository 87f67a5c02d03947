package state

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/surveyease/surveyease/pkg/models"
)

// Serializer encodes session state to checkpoint bytes and back.
//
// Message Extra maps may carry arbitrary runtime values (channels, callbacks,
// tickers) picked up along the way. Before encoding, every Extra map is
// deep-walked and values that are not plain data are dropped. Primitive
// leaves are preserved verbatim even when their container cannot be encoded
// as-is; composites without a JSON form fall back to an exported-field
// projection, then to their string form. Encoding never fails because of a
// non-serializable value.
type Serializer struct{}

// NewSerializer returns a Serializer.
func NewSerializer() *Serializer { return &Serializer{} }

// Encode serializes the session state.
func (s *Serializer) Encode(st *SessionState) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("cannot encode nil state")
	}
	clean := *st
	clean.Messages = sanitizeMessages(st.Messages)
	clean.CurrentStepMessages = sanitizeMessages(st.CurrentStepMessages)

	data, err := json.Marshal(&clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session state: %w", err)
	}
	return data, nil
}

// Decode reconstructs session state from checkpoint bytes.
func (s *Serializer) Decode(data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot decode empty checkpoint data")
	}
	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &st, nil
}

func sanitizeMessages(msgs []models.Message) []models.Message {
	if msgs == nil {
		return nil
	}
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Extra != nil {
			clean := make(map[string]any, len(m.Extra))
			for k, v := range m.Extra {
				if cv, keep := sanitizeValue(v, 0); keep {
					clean[k] = cv
				}
			}
			out[i].Extra = clean
		}
	}
	return out
}

// maxSanitizeDepth bounds the walk so cyclic values cannot recurse forever.
const maxSanitizeDepth = 16

// sanitizeValue returns a plain-data projection of v and whether it should
// be kept at all. Functions, channels and other runtime handles are dropped;
// primitives are kept verbatim.
func sanitizeValue(v any, depth int) (any, bool) {
	if v == nil {
		return nil, true
	}
	if depth > maxSanitizeDepth {
		return fmt.Sprint(v), true
	}

	switch x := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return x, true
	case []byte:
		return x, true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil, false

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, true
		}
		return sanitizeValue(rv.Elem().Interface(), depth+1)

	case reflect.Map:
		clean := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if cv, keep := sanitizeValue(iter.Value().Interface(), depth+1); keep {
				clean[key] = cv
			}
		}
		return clean, true

	case reflect.Slice, reflect.Array:
		clean := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if cv, keep := sanitizeValue(rv.Index(i).Interface(), depth+1); keep {
				clean = append(clean, cv)
			}
		}
		return clean, true

	case reflect.Struct:
		return sanitizeStruct(rv, depth)

	default:
		// Unhandled kinds (complex numbers and the like): keep the string form
		// rather than losing the value entirely.
		return fmt.Sprint(v), true
	}
}

// sanitizeStruct projects a struct onto its exported, serializable fields.
// If nothing survives the projection, the string form is kept instead.
func sanitizeStruct(rv reflect.Value, depth int) (any, bool) {
	rt := rv.Type()
	clean := make(map[string]any)
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		if cv, keep := sanitizeValue(rv.Field(i).Interface(), depth+1); keep {
			clean[f.Name] = cv
		}
	}
	if len(clean) == 0 {
		return fmt.Sprint(rv.Interface()), true
	}
	return clean, true
}
