package report

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ToYAML renders the mapping as YAML with keys in insertion order.
// Nested *Ordered values keep their own order; everything else is encoded
// the way yaml.v3 encodes it.
func (o *Ordered) ToYAML() (string, error) {
	node, err := o.yamlNode()
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	return string(out), nil
}

func (o *Ordered) yamlNode() (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range o.keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}

		var valNode *yaml.Node
		switch v := o.values[k].(type) {
		case *Ordered:
			n, err := v.yamlNode()
			if err != nil {
				return nil, err
			}
			valNode = n
		default:
			valNode = &yaml.Node{}
			if err := valNode.Encode(v); err != nil {
				return nil, fmt.Errorf("failed to encode report value %q: %w", k, err)
			}
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// Print writes the YAML rendering to stdout.
func (o *Ordered) Print() error {
	s, err := o.ToYAML()
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, s)
	return nil
}
