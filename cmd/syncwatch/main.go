package main

import (
	"log/slog"

	"github.com/Carthicc/karlynn/internal/cmd"
	"github.com/Carthicc/karlynn/internal/logging"
)

func main() {
	logging.Init(slog.LevelError)
	cmd.Execute()
}
