package main

import "bidibridge/cmd"

func main() {
	cmd.Execute()
}
