package main

import (
	"os"

	"github.com/soundprediction/interrogato/cmd/interrogato"
)

func main() {
	if err := interrogato.Execute(); err != nil {
		os.Exit(1)
	}
}
