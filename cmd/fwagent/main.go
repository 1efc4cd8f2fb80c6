package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/fwagent/cmd/fwagent/app"
)

func main() {
	app.NewApp().Run()
}
