package main

import (
	"fmt"
	"os"

	"github.com/ovaphlow/pitchfork/service-identity/cmd/identityctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
