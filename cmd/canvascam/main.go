package main

import "github.com/bryanchriswhite/CanvasCamera/cmd/canvascam/commands"

func main() {
	commands.Execute()
}
