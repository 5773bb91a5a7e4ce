package main

import "github.com/maestro-sh/maestro/cmd"

func main() {
	cmd.Execute()
}
