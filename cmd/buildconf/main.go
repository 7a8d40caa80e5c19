// Command buildconf resolves, validates and exports the static-site build configuration.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "buildconf:", err)
		os.Exit(1)
	}
}
