package main

import "github.com/mvarley/vendcord/cmd"

func main() {
	cmd.Execute()
}
