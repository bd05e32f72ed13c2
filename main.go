// SPDX-License-Identifier: Apache-2.0
//
// fdcserv - FDC+ Serial Disk Server
//
// Serves Altair disk images over a high speed serial port (or a WebSocket
// bridge) for machines running the FDC+ Enhanced Floppy Disk Controller.

package main

import (
	"os"

	"github.com/altairfdc/fdcserv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
