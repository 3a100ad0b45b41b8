// spoolcat prints the poison spool as JSON lines.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chenzhangda16/web3-settle/internal/settle/spool"
)

type line struct {
	At           time.Time `json:"at"`
	Key          string    `json:"key,omitempty"`
	Redeliveries int       `json:"redeliveries"`
	Reason       string    `json:"reason"`
	Body         string    `json:"body"`
}

func main() {
	var (
		driver = flag.String("driver", spool.DriverFile, "spool driver: file or rocksdb")
		path   = flag.String("path", "./data/poison.spool", "spool path")
	)
	flag.Parse()

	enc := json.NewEncoder(os.Stdout)
	n := 0
	err := spool.Scan(*driver, *path, func(r spool.Record) error {
		n++
		return enc.Encode(line{
			At:           r.At,
			Key:          r.Key,
			Redeliveries: r.Redeliveries,
			Reason:       r.Reason,
			Body:         string(r.Body),
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "spoolcat: %v (after %d records)\n", err, n)
		os.Exit(1)
	}
}
