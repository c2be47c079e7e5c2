// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Kernrun runs a scenario archive against the threads kernel:
//
//	kernrun [-trace] file.txt
//
// It prints the output the scenario produces. If the archive carries an
// expected output file, kernrun compares against it and exits non-zero on
// a mismatch.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"
	"tinyos.dev/kern/threads"
)

var trace = flag.Bool("trace", false, "trace every scheduling event")

func usage() {
	fmt.Fprintf(os.Stderr, "usage: kernrun [-trace] file.txt\n")
	os.Exit(2)
}

func main() {
	log.SetPrefix("kernrun: ")
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	src, want, err := threads.LoadArchive(data)
	if err != nil {
		log.Fatal(err)
	}
	script, err := threads.ParseScript(src)
	if err != nil {
		log.Fatal(err)
	}

	var out bytes.Buffer
	if err := script.Run(&out, *trace); err != nil {
		log.Fatal(err)
	}
	os.Stdout.Write(out.Bytes())

	if want == nil {
		return
	}
	if bytes.Equal(out.Bytes(), want) {
		fmt.Println(status("ok"))
		return
	}
	fmt.Printf("%s: output does not match archive\nwant:\n%s", status("FAIL"), want)
	os.Exit(1)
}

// status colors the verdict when stdout is a terminal.
func status(s string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return s
	}
	if s == "ok" {
		return "\x1b[32m" + s + "\x1b[0m"
	}
	return "\x1b[31m" + s + "\x1b[0m"
}
