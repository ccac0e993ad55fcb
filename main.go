package main

import "github.com/tmatias/aichat/cmd"

func main() {
	cmd.Execute()
}
