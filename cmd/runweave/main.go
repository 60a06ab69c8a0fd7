package main

import (
	"fmt"
	"os"

	"github.com/runweave/runweave/internal/logger"
	"github.com/runweave/runweave/internal/tool"
	"github.com/runweave/runweave/internal/tool/builtin"
)

func main() {
	log, err := logger.New(logger.Options{Level: "info", HumanReadable: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	registry := tool.NewRegistry()
	if err := builtin.RegisterAll(registry, log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register tools: %v\n", err)
		os.Exit(1)
	}
	registry.Freeze()

	if err := newRootCmd(log, registry).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
