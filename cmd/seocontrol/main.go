package main

import "github.com/eringen/seocontrol/internal/cli"

func main() {
	cli.Execute()
}
