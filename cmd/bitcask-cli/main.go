package main

import (
	"fmt"
	"os"

	"github.com/0xRadioAc7iv/keycask/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
