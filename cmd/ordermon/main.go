// Command ordermon runs the order dispatch engine and flag monitor.
package main

import (
	"os"

	"github.com/roach88/ordermon/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
