package main

import "github.com/felixgeelhaar/lookout/cmd/lookout/cli"

func main() {
	cli.Execute()
}
