package main

import "github.com/liuxd6825/k6frames/cmd"

func main() {
	cmd.Execute()
}
