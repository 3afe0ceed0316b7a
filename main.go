package main

import "github.com/kozaktomas/encounters/cmd"

func main() {
	cmd.Execute()
}
