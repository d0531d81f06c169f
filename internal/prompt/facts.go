package prompt

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/antoniostano/lumen/internal/memory"
)

// ParseFacts reads the extraction model's output. Keys outside the fact
// vocabulary and empty values are dropped; numbers and booleans are kept as
// their text form. Anything that is not a JSON object yields an empty map.
func ParseFacts(raw string) map[string]string {
	out := map[string]string{}

	body := stripCodeFence(raw)
	if body == "" {
		return out
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return out
	}

	for key, v := range decoded {
		key = strings.TrimSpace(key)
		if !memory.IsFactKey(key) {
			continue
		}
		value, ok := factValue(v)
		if !ok {
			continue
		}
		out[key] = value
	}
	return out
}

func factValue(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// stripCodeFence removes a surrounding ``` or ```json fence. What remains
// must be a single JSON object with nothing around it, otherwise "" is
// returned.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if !strings.HasSuffix(s, "```") || len(s) < 6 {
			return ""
		}
		s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return ""
	}
	return s
}
