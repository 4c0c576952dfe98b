// Command xrelay runs one process of a relay tree over Redis Pub/Sub or
// WebSocket channels.
//
//	xrelay coordinator --id root --children w1,w2
//	xrelay leaf --id w1 --parent root --emit tick --interval 2s
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
