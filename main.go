package main

import "deskjarvis/agent/cmd"

func main() {
	cmd.Execute()
}
