package main

import "github.com/naka-gawa/pr-autopilot/cmd"

func main() {
	cmd.Execute()
}
