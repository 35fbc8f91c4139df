package main

import "github.com/loreweave/loreweave/cmd"

func main() {
	cmd.Execute()
}
