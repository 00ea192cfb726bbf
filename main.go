package main

import "github.com/shou/vigilare/cmd"

func main() {
	cmd.Execute()
}
