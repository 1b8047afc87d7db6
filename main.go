package main

import "github.com/shaharia-lab/devserver/cmd"

func main() {
	cmd.Execute()
}
