// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the priv-util subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/jaypipes/pcidb"
	"github.com/nvmexp/lw-firmware-sub148/pkg/priv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// listCmd implements subcommands.Command for "list".
type listCmd struct {
	sysfs string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list all NVIDIA GPUs on the host" }
func (*listCmd) Usage() string    { return "list [--sysfs=DIR]\n" }

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sysfs, "sysfs", PCI_DEVICES_PATH, "PCI devices directory")
}

func (c *listCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	db, err := pcidb.New()
	if err != nil {
		// names are optional, the list is not
		klog.V(priv.DBG_LVL_BASIC).InfoS("priv-util list: no PCI database", "err", err)
		db = nil
	}
	gpus, err := listGpus(c.sysfs, db)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	prFmt := "%14s | %8s | %40s | %10s \n"
	fmt.Printf("Print the list of NVIDIA GPUs. Total devices found: %d\n", len(gpus))
	fmt.Printf(prFmt, "BDF", "Device", "Name", "Class")
	for _, g := range gpus {
		name := g.Name
		if len(name) > 37 {
			name = name[:37] + "..."
		}
		fmt.Printf(prFmt, g.BDF, g.Device, name, g.Class)
	}
	return subcommands.ExitSuccess
}

// readCmd implements subcommands.Command for "read".
type readCmd struct {
	target
}

func (*readCmd) Name() string     { return "read" }
func (*readCmd) Synopsis() string { return "checked priv register read" }
func (*readCmd) Usage() string    { return "read [flags] ADDR\n" }

func (c *readCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
}

func (c *readCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addr, err := parseU32(f.Arg(0))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	bus, cfg, err := c.open()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer bus.Close()

	mb := priv.NewBusMailbox(bus, cfg.MailboxBase)
	val, err := priv.NewAccessor(bus, mb, cfg).Read(addr)
	if err != nil {
		return reportAccessError(err, mb)
	}
	fmt.Printf("0x%08X: 0x%08X\n", addr, val)
	return subcommands.ExitSuccess
}

// writeCmd implements subcommands.Command for "write".
type writeCmd struct {
	target
	posted bool
}

func (*writeCmd) Name() string     { return "write" }
func (*writeCmd) Synopsis() string { return "checked priv register write" }
func (*writeCmd) Usage() string    { return "write [flags] ADDR DATA\n" }

func (c *writeCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
	f.BoolVar(&c.posted, "posted", false, "issue a posted BAR0 write")
}

func (c *writeCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	addr, err := parseU32(f.Arg(0))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	data, err := parseU32(f.Arg(1))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitUsageError
	}
	bus, cfg, err := c.open()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer bus.Close()

	mb := priv.NewBusMailbox(bus, cfg.MailboxBase)
	a := priv.NewAccessor(bus, mb, cfg)
	if c.posted {
		if a.Bar0() == nil {
			fmt.Printf("ERROR: --posted needs bar0Master in the configuration\n")
			return subcommands.ExitUsageError
		}
		err = a.Bar0().WritePosted(addr, data)
	} else {
		err = a.Write(addr, data)
	}
	if err != nil {
		return reportAccessError(err, mb)
	}
	fmt.Printf("0x%08X <- 0x%08X\n", addr, data)
	return subcommands.ExitSuccess
}

func reportAccessError(err error, mb priv.DiagnosticSink) subcommands.ExitStatus {
	fmt.Printf("ERROR: %v\n", err)
	var halt *priv.HaltError
	if errors.As(err, &halt) {
		if diag, derr := priv.ReadDiagnostics(mb); derr == nil {
			fmt.Println(diag.String())
		}
	}
	return subcommands.ExitFailure
}

// mailboxCmd implements subcommands.Command for "mailbox".
type mailboxCmd struct {
	target
	base string
}

func (*mailboxCmd) Name() string     { return "mailbox" }
func (*mailboxCmd) Synopsis() string { return "dump and decode the priv diagnostic mailboxes" }
func (*mailboxCmd) Usage() string    { return "mailbox [flags]\n" }

func (c *mailboxCmd) SetFlags(f *flag.FlagSet) {
	c.target.setFlags(f)
	f.StringVar(&c.base, "base", "", "mailbox base address, overrides mailboxBase of the configuration")
}

func (c *mailboxCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	bus, cfg, err := c.open()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer bus.Close()

	base := cfg.MailboxBase
	if c.base != "" {
		if base, err = parseU32(c.base); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			return subcommands.ExitUsageError
		}
	}
	diag, err := priv.ReadDiagnostics(priv.NewBusMailbox(bus, base))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println(diag.String())
	return subcommands.ExitSuccess
}

// profileCmd implements subcommands.Command for "profile".
type profileCmd struct{}

func (*profileCmd) Name() string             { return "profile" }
func (*profileCmd) Synopsis() string         { return "decode a priv profiling buffer dump" }
func (*profileCmd) Usage() string            { return "profile FILE\n" }
func (*profileCmd) SetFlags(f *flag.FlagSet) {}

// profileRecord is the printed form of one buffer entry.
type profileRecord struct {
	Entry priv.PrivProfilingLogEntry
	Flags priv.PrivProfileFlags
}

func (c *profileCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	file, err := os.Open(f.Arg(0))
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	header, entries, err := priv.DecodeProfile(file)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("\nPriv profiling buffer at 0x%08X, %d entries:\n", header.Addr, len(entries))
	for i := range entries {
		flags, err := entries[i].DecodeFlags()
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			return subcommands.ExitFailure
		}
		PrintTableToStdout(profileRecord{Entry: entries[i], Flags: flags}, "   ", "   ")
	}
	return subcommands.ExitSuccess
}
