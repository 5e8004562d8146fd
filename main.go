package main

import "github.com/nextlevelbuilder/gatewaycore/cmd"

func main() {
	cmd.Execute()
}
