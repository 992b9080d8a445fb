package main

import "go-quest-session/cmd/questctl/cmd"

func main() {
	cmd.Execute()
}
