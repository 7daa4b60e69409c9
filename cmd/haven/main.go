package main

import (
	"context"
	"log"
	"os"

	"github.com/brightnest/haven/internal/app"
	"github.com/brightnest/haven/internal/buildinfo"
	"github.com/brightnest/haven/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	a.Run(ctx)

}
