package main

import "github.com/doug-q/mlir-sys/cmd"

func main() {
	cmd.Execute()
}
