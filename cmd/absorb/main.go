package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/The-Promised-Neverland/transporter/internal/client"
	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	errColor  = color.New(color.FgRed, color.Bold).SprintFunc()
	infoColor = color.New(color.FgCyan).SprintFunc()
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("Z", os.Getenv("TPAD_ZMQ"), "tpad ZeroMQ address")
	dir := flag.String("d", ".", "directory to write files into")
	bs := flag.Int("BS", 1000, "block size")
	oldest := flag.Bool("oldest", false, "request the oldest file first")
	newest := flag.Bool("newest", false, "request the newest file first")
	largest := flag.Bool("largest", false, "request the largest file first")
	smallest := flag.Bool("smallest", false, "request the smallest file first")
	quiet := flag.Bool("q", false, "print errors only")
	verbose := flag.Bool("v", false, "print every chunk")
	flag.Parse()

	if *addr == "" {
		fmt.Fprintln(os.Stderr, "usage: absorb -Z <zmq address> [-d <directory>] [-oldest|-newest|-largest|-smallest] [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if info, err := os.Stat(*dir); err != nil || !info.IsDir() {
		fmt.Fprintln(os.Stderr, errColor(fmt.Sprintf("%s is not a directory", *dir)))
		os.Exit(1)
	}

	method := protocol.SubRandom
	switch {
	case *oldest:
		method = protocol.SubOldest
	case *newest:
		method = protocol.SubNewest
	case *largest:
		method = protocol.SubLargest
	case *smallest:
		method = protocol.SubSmallest
	}

	opts := client.Options{BlockSize: *bs}
	if *verbose {
		opts.Progress = func(name string, off, total int64) {
			fmt.Printf("  %s %d/%d\n", name, off, total)
		}
	}
	c, err := client.Dial(*addr, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, errColor(err))
		os.Exit(1)
	}
	defer c.Close()

	n, err := c.Absorb(*dir, method, func(res *client.Result) {
		if !*quiet {
			fmt.Printf("Absorbing File: %s ... %s %s\n", infoColor(res.Name), okColor("OK"), res.Stats())
		}
	})
	if err != nil {
		fmt.Printf("Absorbing File: ... %s\n", errColor("ERR"))
		fmt.Fprintln(os.Stderr, err)
		c.Close()
		os.Exit(1)
	}
	if !*quiet {
		fmt.Printf("%d file(s) absorbed\n", n)
	}
}
