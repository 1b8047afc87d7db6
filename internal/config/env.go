package config

import (
	"fmt"
	"os"
	"strings"
)

const envPlaceholder = "${ENV:"

// interpolateEnvMap applies ${ENV:VAR_NAME} substitution to all values in m.
func interpolateEnvMap(context string, m map[string]string) (map[string]string, error) {
	if len(m) == 0 {
		return m, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		interpolated, err := interpolateEnv(v)
		if err != nil {
			return nil, fmt.Errorf("proxy %q header %q: %w", context, k, err)
		}
		out[k] = interpolated
	}
	return out, nil
}

// interpolateEnv replaces all ${ENV:VAR_NAME} patterns in s with the corresponding
// environment variable values. Returns an error if a referenced variable is not set.
func interpolateEnv(s string) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, envPlaceholder)
		if start == -1 {
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end == -1 {
			break
		}
		end += start

		varName := rest[start+len(envPlaceholder) : end]
		value, ok := os.LookupEnv(varName)
		if !ok || value == "" {
			return "", fmt.Errorf("required env var %q is not set", varName)
		}
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String(), nil
}
