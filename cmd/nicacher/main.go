// Command nicacher runs the binary cache proxy.
package main

import (
	"context"
	"log"
	"os"

	"github.com/nicacher/nicacher/internal/cmd"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	if err := cmd.New().Run(context.Background(), os.Args); err != nil {
		log.Printf("error running the application: %s", err)

		return 1
	}

	return 0
}
