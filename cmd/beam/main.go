package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/The-Promised-Neverland/transporter/internal/client"
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
	file := flag.String("f", "", "file to upload")
	dir := flag.String("d", "", "upload every file in this directory")
	bs := flag.Int("BS", 1000, "block size")
	keep := flag.Bool("keep", false, "keep local files after a verified upload")
	confirm := flag.Bool("confirm", true, "confirm verified uploads so the server frees the slot")
	quiet := flag.Bool("q", false, "print errors only")
	verbose := flag.Bool("v", false, "print every chunk")
	flag.Parse()

	if *addr == "" || (*file == "") == (*dir == "") {
		fmt.Fprintln(os.Stderr, "usage: beam -Z <zmq address> (-f <file> | -d <directory>) [flags]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts := client.Options{BlockSize: *bs, Keep: *keep, Confirm: *confirm}
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

	failed := 0
	report := func(name string, res *client.Result, err error) {
		if err != nil {
			failed++
			if errors.Is(err, client.ErrHashMismatch) {
				fmt.Printf("Beaming File: %s ... %s\n", name, errColor("HASH ERROR"))
			} else {
				fmt.Printf("Beaming File: %s ... %s\n", name, errColor("ERR"))
				fmt.Fprintln(os.Stderr, err)
			}
			return
		}
		if !*quiet {
			fmt.Printf("Beaming File: %s ... %s %s\n", infoColor(name), okColor("OK"), res.Stats())
		}
	}

	if *file != "" {
		res, err := c.Put(*file)
		report(*file, res, err)
	} else if err := c.PutDir(*dir, report); err != nil {
		fmt.Fprintln(os.Stderr, errColor(err))
		os.Exit(1)
	}
	if failed > 0 {
		c.Close()
		os.Exit(1)
	}
}
