package snapshot

import (
	"math"
	"reflect"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize maps a coerced value onto its comparison form: line endings are
// folded to LF, text is NFC-normalized and blank strings become nil.
// The result is only used for comparison and never stored.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s := norm.NFC.String(lineEndings.Replace(t))
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return s
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	}
	return v
}

// integral floats compare equal to their int64 form
func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Equal reports whether two values are the same under normalization.
func Equal(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	return reflect.DeepEqual(na, nb)
}

// NormalizeLabel is Normalize plus trailing newline removal, used for
// denormalized association labels.
func NormalizeLabel(v any) any {
	n := Normalize(v)
	if s, ok := n.(string); ok {
		s = strings.TrimRight(s, "\n")
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return s
	}
	return n
}

// LabelEqual compares association labels.
func LabelEqual(a, b any) bool {
	na, nb := NormalizeLabel(a), NormalizeLabel(b)
	if na == nil || nb == nil {
		return na == nil && nb == nil
	}
	return reflect.DeepEqual(na, nb)
}
