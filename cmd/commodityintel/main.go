package main

import "commodity-intel/internal/cli"

func main() {
	cli.Execute()
}
