package main

import (
	"log"

	"github.com/thiagokokada/dotrack/cmd"
)

func main() {
	log.SetFlags(0)
	if err := cmd.Run(); err != nil {
		log.Fatalf("dotrack: %v", err)
	}
}
