package main

import (
	_ "time/tzdata"

	"github.com/vietddude/riverwatch/internal/cli"
)

func main() {
	cli.Execute()
}
