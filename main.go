package main

import "github.com/CraigKelly/nutsgo/cmd"

// TODO: write the trace to disk (the summary is all that survives a run)

func main() {
	cmd.Execute()
}
