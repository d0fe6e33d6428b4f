// Package main is the entry point of the procaccess command.
package main

import "github.com/sarchlab/procaccess/procaccess/cmd"

func main() {
	cmd.Execute()
}
