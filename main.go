package main

import (
	"readecho/cmd"
)

func main() {
	cmd.Execute()
}
