// Command destination-common-room syncs member records into a Common Room
// community.
package main

import (
	"fmt"
	"os"

	"github.com/observablehq/airbyte/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
