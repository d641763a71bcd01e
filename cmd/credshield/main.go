package main

import "github.com/jmcleod/credshield/cmd/credshield/cmd"

func main() {
	cmd.Execute()
}
