package main

import "taskhub.org/cmd/taskhubctl/cmd"

func main() {
	cmd.Execute()
}
