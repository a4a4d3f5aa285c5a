// Command cardrelay runs the RFID scan-handoff broker.
package main

import "github.com/Sentinel-Gate/cardrelay/cmd/cardrelay/cmd"

func main() {
	cmd.Execute()
}
