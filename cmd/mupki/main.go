package main

import "github.com/jmcleod/mupki/cmd/mupki/cmd"

func main() {
	cmd.Execute()
}
