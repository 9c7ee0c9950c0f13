package main

import "loadphase/cmd"

func main() {
	cmd.Execute()
}
