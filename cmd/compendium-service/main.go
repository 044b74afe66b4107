package main

import (
	"os"

	"github.com/Mystery2099/dnd-pwa-sub000/compendiumservice"
)

func main() {
	if err := compendiumservice.Run(); err != nil {
		os.Exit(1)
	}
}
