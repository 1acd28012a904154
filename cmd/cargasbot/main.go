package main

import (
	"log"

	_ "time/tzdata"

	"github.com/Fechomap/cargas-gas/core/cmd"
	"github.com/Fechomap/cargas-gas/internal/app"
)

func main() {
	if err := cmd.Run(cmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        app.LoadConfig,
		Bootstrap:         app.Bootstrap,
	}); err != nil {
		log.Fatal(err)
	}
}
