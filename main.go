// The main package for the tumblr-backfill executable.
package main

import (
	"github.com/JakeFAU/tumblr-backfill/cmd"
)

func main() {
	cmd.Execute()
}
