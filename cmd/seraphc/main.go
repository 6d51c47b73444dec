// Command seraphc compiles SERAPH modules to static ELF executables.
package main

import (
	"os"

	"github.com/tinyrange/seraph/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
