package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/philsphicas/simrelay/internal/protocol"
)

// CommandsCmd lists the game command vocabulary.
type CommandsCmd struct {
	Out io.Writer `kong:"-"`
}

func (c *CommandsCmd) Run() error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME")
	for _, cmd := range protocol.GameCommands() {
		fmt.Fprintf(tw, "%d\t%s\n", int(cmd), cmd)
	}
	return tw.Flush()
}
