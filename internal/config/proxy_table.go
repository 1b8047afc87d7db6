package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ProxyRule forwards requests whose path matches Context to Target.
type ProxyRule struct {
	// Context is a path prefix, or a regular expression when it starts with ^.
	Context string `yaml:"-"`

	// Target is the upstream origin, e.g. http://0.0.0.0:5000.
	Target string `yaml:"target"`

	// WS enables tunneling of WebSocket upgrade requests on this route.
	WS bool `yaml:"ws,omitempty"`

	// ChangeOrigin sends the target host as the Host header instead of the incoming one.
	ChangeOrigin bool `yaml:"changeOrigin,omitempty"`

	// Secure controls TLS certificate verification for https/wss targets. Defaults to true.
	Secure *bool `yaml:"secure,omitempty"`

	Rewrite *Rewrite          `yaml:"rewrite,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Rewrite replaces the first match of Pattern in the request path.
type Rewrite struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// VerifyTLS reports whether upstream certificates must be verified.
func (r ProxyRule) VerifyTLS() bool {
	return r.Secure == nil || *r.Secure
}

func (r *ProxyRule) interpolate() error {
	target, err := interpolateEnv(r.Target)
	if err != nil {
		return fmt.Errorf("proxy %q target: %w", r.Context, err)
	}
	r.Target = target

	headers, err := interpolateEnvMap(r.Context, r.Headers)
	if err != nil {
		return err
	}
	r.Headers = headers
	return nil
}

// ProxyTable is the ordered proxy routing table. In YAML it is a mapping from
// context to either a target string or a rule object; declaration order is kept
// because the first matching rule wins.
type ProxyTable []ProxyRule

// UnmarshalYAML decodes the mapping while preserving key order.
func (t *ProxyTable) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*t = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: proxy must be a mapping of path to target", value.Line)
	}

	table := make(ProxyTable, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]

		var rule ProxyRule
		switch val.Kind {
		case yaml.ScalarNode:
			rule.Target = val.Value
		case yaml.MappingNode:
			if err := val.Decode(&rule); err != nil {
				return fmt.Errorf("proxy %q: %w", key.Value, err)
			}
		default:
			return fmt.Errorf("line %d: proxy %q must be a target string or an object", val.Line, key.Value)
		}
		rule.Context = key.Value
		table = append(table, rule)
	}
	*t = table
	return nil
}

// MarshalYAML encodes the table as an ordered mapping.
func (t ProxyTable) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, rule := range t {
		val := &yaml.Node{}
		if err := val.Encode(rule); err != nil {
			return nil, fmt.Errorf("encoding proxy %q: %w", rule.Context, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: rule.Context},
			val,
		)
	}
	return node, nil
}
