package main

import "github.com/ys7zTS/sandbox/cmd"

func main() {
	cmd.Execute()
}
