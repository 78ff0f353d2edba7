package main

import "github.com/PavelPyasecky/snfms/cmd/snfmsapi/cmd"

func main() {
	cmd.Execute()
}
