package main

import "github.com/uvstream/vrgdisplay/cmd/vrgdisplay/commands"

func main() {
	commands.Execute()
}
