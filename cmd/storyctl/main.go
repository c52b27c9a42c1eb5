package main

import (
	"fmt"
	"os"

	"github.com/rcowellai/recording-app-sub000/internal/ctl"
)

func main() {
	if err := ctl.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
