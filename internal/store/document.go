package store

// Document is a single stored record. Field values follow encoding/json
// conventions: numbers are float64, nested objects are map[string]any.
type Document map[string]any

func (d Document) ID() string {
	return d.String(FieldID)
}

// String returns the named field as a string, "" when absent or not a string.
func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

// Number returns the named field as a float64, coercing the integer types a
// caller may have set directly.
func (d Document) Number(field string) float64 {
	switch v := d[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns the named field as a bool, false when absent.
func (d Document) Bool(field string) bool {
	b, _ := d[field].(bool)
	return b
}

// Clone returns a shallow copy, so hooks can normalize without aliasing the
// caller's map.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
