package main

import "github.com/audiolibrelab/pagedvr/cmd"

func main() {
	cmd.Execute()
}
