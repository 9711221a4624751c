package main

import "github.com/grantly-io/grantly/cmd"

func main() {
	cmd.Execute()
}
