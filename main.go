package main

import "echoes/cmd"

func main() {
	cmd.Execute()
}
