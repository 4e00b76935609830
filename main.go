package main

import (
	"os"

	"github.com/jcflow/jc/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
