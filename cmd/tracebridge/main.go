package main

import "github.com/GriffinCanCode/tracebridge/cmd/tracebridge/cmd"

func main() {
	cmd.Execute()
}
