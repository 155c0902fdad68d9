package main

import "github.com/mcoot/bunker/internal/cli"

func main() {
	cli.Execute()
}
