// Command fabsync pulls records from external services into local tables.
package main

import (
	"fmt"
	"os"

	"github.com/mengxiangmengyuan/fabrik/internal/cli"
	_ "github.com/mengxiangmengyuan/fabrik/internal/driver/all"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own formatted errors; flag and argument
		// errors from cobra are printed here.
		if _, ok := err.(*cli.ExitError); !ok {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
