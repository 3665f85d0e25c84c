// sentinel watches agent logs for PII leaks and reasoning drift and
// locks down on the first critical verdict.
package main

import (
	"os"

	"github.com/ppiankov/sentinel/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
