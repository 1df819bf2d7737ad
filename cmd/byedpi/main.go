package main

import "byedpi-core/internal/cmd"

func main() {
	cmd.Execute()
}
