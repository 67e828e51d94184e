// Command ratcrowler crawls seed URLs, builds the backlink graph, and
// scores it with PageRank and domain authority.
package main

import "github.com/TheBoringRats/ratcrowler/internal/cli"

func main() {
	cli.Execute()
}
