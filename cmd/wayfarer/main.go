package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/wayfarer/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("WAYFARER_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wayfarer:", err)
		os.Exit(1)
	}
}
