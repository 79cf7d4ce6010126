package cli

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ASHISH26940/recordstore/internal/record"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"gopkg.in/yaml.v3"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"json", "yaml"}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, format) {
				return fmt.Errorf("invalid format %q: must be one of %v", format, ValidFormats)
			}
			cfg, err := loadConfig(cmd, rootOpts)
			if err != nil {
				return err
			}
			seq, err := openStore(cfg, newLogger(cfg.Log.Level, rootOpts.Verbose)).LoadStrict()
			if err != nil {
				return err
			}
			var out []byte
			if format == "yaml" {
				out, err = toYAML(seq)
			} else {
				out, err = json.Marshal(seq)
			}
			if err != nil {
				return err
			}
			if format == "json" {
				out = pretty.Pretty(out)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format (json|yaml)")

	return cmd
}

// toYAML renders seq keeping the field order of each record.
func toYAML(seq record.Sequence) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range seq {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for _, field := range r.Fields() {
			raw, _ := r.Get(field)
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			val := &yaml.Node{}
			if err := val.Encode(v); err != nil {
				return nil, err
			}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: field}, val)
		}
		root.Content = append(root.Content, m)
	}
	return yaml.Marshal(root)
}
