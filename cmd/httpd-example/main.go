// Command httpd-example is a minimal embedder of the httpd package: bind a
// listener, pull requests off it, answer "pong" to everything.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
