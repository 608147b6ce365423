package main

import (
	"db-snap/cmd"
)

func main() {
	cmd.Execute()
}
