package models

import "strings"

// modelPrefixes are vendor/library prefixes that do not change which weights
// a model name refers to.
var modelPrefixes = []string{
	"systran/",
	"faster-whisper-",
	"openai/whisper-",
}

// canonicalModel normalizes a model name: lowercase, trim whitespace, and
// strip known vendor prefixes until none remain.
func canonicalModel(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for stripped := true; stripped; {
		stripped = false
		for _, p := range modelPrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimPrefix(s, p)
				stripped = true
			}
		}
	}
	return s
}

// SameModel reports whether two model names refer to the same weights after
// normalization. Sessions asking for a live model equivalent to the main
// model share one engine instead of loading it twice.
func SameModel(a, b string) bool {
	return canonicalModel(a) == canonicalModel(b)
}
