package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var errUnknownFormat = fmt.Errorf("output must be %s or %s", formatJSON, formatYAML)

func formatOf(c *cli.Context) (string, error) {
	switch f := c.String("output"); f {
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w, got %q", errUnknownFormat, f)
	}
}

// render writes v in the selected format. YAML output keeps the JSON field
// names and order.
func render(c *cli.Context, v any) error {
	format, err := formatOf(c)
	if err != nil {
		return err
	}
	return write(c.App.Writer, format, v)
}

func write(w io.Writer, format string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == formatJSON {
		_, err = fmt.Fprintln(w, string(body))
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return err
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// blockStyle drops the flow style yaml assigns to parsed JSON.
func blockStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle {
		n.Style = 0
	}
	for _, child := range n.Content {
		blockStyle(child)
	}
}
