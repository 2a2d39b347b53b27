package main

import "github.com/nextlevelbuilder/nanoroom/cmd"

func main() {
	cmd.Execute()
}
