package main

import (
	"github.com/pterodactyl/originfs/cmd"
)

func main() {
	cmd.Execute()
}
