package main

import (
	"fmt"

	"github.com/spf13/pflag"
)

// outputFormat is the value of a --format flag.
type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	switch outputFormat(v) {
	case formatText, formatJSON:
		*f = outputFormat(v)
		return nil
	}
	return fmt.Errorf("invalid format %q (expected text|json)", v)
}

func (f *outputFormat) Type() string { return "format" }

// addFormatFlag registers --format on flags, resetting target to text.
func addFormatFlag(flags *pflag.FlagSet, target *outputFormat) {
	*target = formatText
	flags.Var(target, "format", "Output format: text or json")
}
