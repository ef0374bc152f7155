package main

import "github.com/leadengine/whatsapp-ingest/cmd"

func main() {
	cmd.Execute()
}
