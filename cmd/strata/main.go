// Command strata inspects and exercises sparse layout declarations.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	level := hclog.LevelFromString(os.Getenv("STRATA_LOG"))
	if level == hclog.NoLevel {
		level = hclog.Warn
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "strata",
		Level:  level,
		Output: os.Stderr,
	})

	c := cli.NewCLI("strata", version)
	c.Args = args
	c.Commands = commands(&Meta{Ui: ui, Logger: logger})
	c.HelpWriter = os.Stdout

	status, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return status
}

func commands(meta *Meta) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"layout": func() (cli.Command, error) { return &LayoutCommand{Meta: meta}, nil },
		"plan":   func() (cli.Command, error) { return &PlanCommand{Meta: meta}, nil },
		"run":    func() (cli.Command, error) { return &RunCommand{Meta: meta}, nil },
		"encode": func() (cli.Command, error) { return &EncodeCommand{Meta: meta}, nil },
		"bench":  func() (cli.Command, error) { return &BenchCommand{Meta: meta}, nil },
	}
}
