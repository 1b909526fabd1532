package main

import "codesearch/internal/cli"

func main() {
	cli.Execute()
}
