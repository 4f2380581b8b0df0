package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "inkwell: %v\n", err)
		os.Exit(1)
	}
}
