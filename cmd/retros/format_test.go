package main

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestOutputFormatFlag(t *testing.T) {
	var f outputFormat = formatJSON
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFormatFlag(flags, &f)
	if f != formatText {
		t.Fatalf("default = %q, want text", f)
	}

	if err := flags.Parse([]string{"--format", "json"}); err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if f != formatJSON {
		t.Errorf("format = %q, want json", f)
	}

	if err := flags.Parse([]string{"--format", "yaml"}); err == nil {
		t.Error("expected yaml to be rejected")
	}
	if f != formatJSON {
		t.Errorf("rejected value must not change format, got %q", f)
	}
}
