package main

import (
	"fmt"
	"os"

	"github.com/surveyforge/surveyforge-backend/internal/tools/sweepmon"
)

func main() {
	if err := sweepmon.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
