package pipeline

import (
	"net/url"
	"strings"
)

// DefaultSensitiveKeys are dropped from request summary logs.
var DefaultSensitiveKeys = []string{"token"}

func sensitiveSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}
	return set
}

func (o *Orchestrator) isSensitive(key string) bool {
	_, ok := o.sensitive[strings.ToLower(key)]
	return ok
}

// clearValues copies query values without sensitive keys.
func (o *Orchestrator) clearValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if o.isSensitive(k) {
			continue
		}
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

// clearFields copies body fields without sensitive keys. Nested values are
// kept as they are.
func (o *Orchestrator) clearFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if o.isSensitive(k) {
			continue
		}
		out[k] = v
	}
	return out
}
