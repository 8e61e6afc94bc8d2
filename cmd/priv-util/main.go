// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"k8s.io/klog/v2"
)

var Version = "1.0.0"

// This variable is filled in during the linker step - -ldflags "-X main.buildTime=`date -u '+%Y-%m-%dT%H:%M:%S'`"
var buildTime = ""

var helptxt = `
priv-util is a command line tool to reach GPU priv registers through the checked access
layer and to decode the diagnostics a halted falcon leaves behind.

Usage:
./priv-util [--version] [--verbosity=0] <command> [flags] [args]

Which:
	version            : Print the version of this application and exit
	verbosity          : Set the log level verbosity, where 0 is no logging and 4 is very verbose
	list               : List all NVIDIA GPUs on the host
	read ADDR          : Checked priv read, e.g. read --bdf=0000:01:00.0 0x9400
	write ADDR DATA    : Checked priv write
	mailbox            : Dump and decode the diagnostic mailboxes
	profile FILE       : Decode a priv profiling buffer dump
`

const (
	DefaultVerbosity = "0" // Default log level
)

func PrintTableToStdout(table any, prefix, indent string) {
	s, _ := json.MarshalIndent(table, prefix, indent)
	fmt.Print(string(s), "\n")
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&listCmd{}, "")
	subcommands.Register(&readCmd{}, "access")
	subcommands.Register(&writeCmd{}, "access")
	subcommands.Register(&mailboxCmd{}, "debug")
	subcommands.Register(&profileCmd{}, "debug")

	version := flag.Bool("version", false, "Display version and exit")
	verbosity := flag.String("verbosity", DefaultVerbosity, "Log level verbosity")
	flag.Usage = func() { fmt.Fprint(os.Stderr, helptxt) }
	flag.Parse()

	// Set verbosity level according to the 'verbosity' flag
	var l klog.Level
	l.Set(*verbosity)

	klog.V(1).InfoS("priv-util", "args", strings.Join(os.Args[1:], " "))

	if *version {
		fmt.Println("[] priv-util", "version", Version, "build", buildTime)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		fmt.Print(helptxt)
		os.Exit(0)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
