package main

import cmd "github.com/rohmanhakim/robots-gate/internal/cli"

func main() {
	cmd.Execute()
}
