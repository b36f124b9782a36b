package main

import "github.com/kcgate/kcgate/internal/cli"

func main() {
	cli.Execute()
}
