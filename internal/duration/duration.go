// Package duration normalizes video durations into seconds and formats course totals.
//
// Durations arrive from the backend either as raw numeric seconds or as
// pre-formatted "H:MM:SS" / "M:SS" strings. Both shapes are converted to
// seconds at the ingestion boundary so nothing downstream branches on
// representation.
package duration

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pot-code/course-player/internal/domain"
)

// Seconds duration in seconds, decodes from a JSON number or a formatted string
type Seconds float64

var _ json.Unmarshaler = (*Seconds)(nil)

// UnmarshalJSON implement json.Unmarshaler
func (s *Seconds) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := Parse(str)
		if err != nil {
			return err
		}
		*s = Seconds(v)
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("duration: unsupported value %s", raw)
	}
	*s = Seconds(sanitize(f))
	return nil
}

// Float64 .
func (s Seconds) Float64() float64 {
	return float64(s)
}

// Parse parse "H:MM:SS", "M:SS" or plain numeric seconds
//
// negative values are treated as zero
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "undefined" {
		return 0, nil
	}
	if !strings.Contains(s, ":") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid value %q", s)
		}
		return sanitize(f), nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("duration: too many components in %q", s)
	}
	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 || math.IsNaN(v) {
			return 0, fmt.Errorf("duration: invalid component %q in %q", p, s)
		}
		// leading component may exceed 59, e.g. "75:00"
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("duration: component %q out of range in %q", p, s)
		}
		total = total*60 + v
	}
	return total, nil
}

// Normalize convert any supported representation into seconds, unknown or
// malformed input yields zero
func Normalize(v interface{}) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case Seconds:
		return sanitize(float64(x))
	case *Seconds:
		if x == nil {
			return 0
		}
		return sanitize(float64(*x))
	case float64:
		return sanitize(x)
	case float32:
		return sanitize(float64(x))
	case int:
		return sanitize(float64(x))
	case int32:
		return sanitize(float64(x))
	case int64:
		return sanitize(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0
		}
		return sanitize(f)
	case string:
		f, err := Parse(x)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// TotalSeconds normalize every value and sum them, the result is rounded to whole seconds
func TotalSeconds(values []interface{}) float64 {
	var sum float64
	for _, v := range values {
		sum += Normalize(v)
	}
	return math.Round(sum)
}

// TotalVideoSeconds sum durations of the given videos
func TotalVideoSeconds(videos []*domain.Video) float64 {
	values := make([]interface{}, 0, len(videos))
	for _, v := range videos {
		if v == nil {
			continue
		}
		values = append(values, v.Duration)
	}
	return TotalSeconds(values)
}

// maxFormatSeconds keeps Format clear of int64 overflow
const maxFormatSeconds = float64(math.MaxInt64 / 2)

// Format format seconds rounded to the nearest second as "H:MM:SS", or "M:SS" below one hour
func Format(seconds float64) string {
	total := int64(math.Round(math.Min(sanitize(seconds), maxFormatSeconds)))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func sanitize(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
