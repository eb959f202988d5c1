// interviewd - structured interview service
package main

import (
	"os"

	"github.com/ashureev/interviewd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
