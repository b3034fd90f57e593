// Command inspect dumps raw store keys and values for debugging. Point
// it at a server's store directory while the server is stopped.
package main

import (
	"flag"
	"fmt"
	"os"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

func main() {
	var (
		path   string
		prefix string
		values bool
	)
	flag.StringVar(&path, "path", "", "pebble store directory")
	flag.StringVar(&prefix, "prefix", "", "key prefix to list (msg:, chat:, mailbox:, sync:, summary:)")
	flag.BoolVar(&values, "values", false, "print values alongside keys")
	flag.Parse()

	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	logger.InitWithLevel("error")
	if err := store.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	keys, err := store.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list keys: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !values {
			fmt.Println(k)
			continue
		}
		v, err := store.GetKey(k)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, v)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}
