package main

import (
	"github.com/pixmuse/pixmuse-api/cmd"
)

func main() {
	cmd.Execute()
}
