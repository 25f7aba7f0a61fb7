package main

import (
	"fmt"
	"os"

	cmd "github.com/aozora-works/kousei-engine/cmd/kousei"
)

func main() {
	rootCmd := cmd.GetRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
