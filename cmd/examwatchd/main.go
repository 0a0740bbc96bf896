package main

import "github.com/examwatch/examwatch/internal/cli"

func main() {
	cli.Execute()
}
