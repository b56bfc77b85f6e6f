package main

import "github.com/owliabot/owliabot/cmd"

func main() {
	cmd.Execute()
}
