package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	unlocker "github.com/zed-0xff/fpsunlocker"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running target processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := unlocker.ListTargets(cmd.Context(), true, true)
		if err != nil {
			return err
		}
		for _, tp := range targets {
			fmt.Printf("%8d %-8v %s\n", tp.Pid, tp.Kind, tp.Name)
		}
		return nil
	},
}

var peekCmd = &cobra.Command{
	Use:   "peek <pid> <addr> [size]",
	Short: "Hexdump target memory",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid PID: %s", args[0])
		}
		ea, err := parseHex(args[1], "address")
		if err != nil {
			return err
		}
		size := uint64(0x100)
		if len(args) == 3 {
			if size, err = parseHex(args[2], "size"); err != nil {
				return err
			}
		}

		process, err := unlocker.OpenTarget(unlocker.TargetProcess{Pid: uint32(pid)})
		if err != nil {
			return err
		}
		defer process.Close()

		buffer, err := unlocker.ReadBytes(process, uintptr(ea), int(size))
		if err != nil {
			return err
		}
		fmt.Print(unlocker.HexDump(buffer, uintptr(ea)))
		return nil
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Wait for one process, unlock it once and exit",
	Args:  cobra.NoArgs,
	RunE:  runAttach,
}

func init() {
	addSettingsFlags(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	settings, err := settingsFromFlags(cmd)
	if err != nil {
		return err
	}

	fmt.Println("Waiting for Roblox...")

	var targets []unlocker.TargetProcess
	for len(targets) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		targets, err = unlocker.ListTargets(ctx, settings.UnlockClient, settings.UnlockStudio)
		if err != nil {
			return err
		}
	}

	tp := targets[0]
	if len(targets) > 1 {
		if tp, err = selectTarget(targets); err != nil {
			return err
		}
	}

	fmt.Println("Found Roblox...")
	fmt.Println("Attaching...")

	process, err := unlocker.OpenTarget(tp)
	if err != nil {
		return err
	}

	notifier := unlocker.NewConsoleNotifier(false)
	target := unlocker.NewTarget(process, settings, notifier, nil)
	defer target.Close()

	if err := target.Attach(ctx, 0); err != nil || !(target.Found() || target.UsesFlags()) {
		return fmt.Errorf("unable to attach to process %d", tp.Pid)
	}

	fmt.Println("\nSuccess! The injector will close in 3 seconds...")
	time.Sleep(3 * time.Second)
	return nil
}

func selectTarget(targets []unlocker.TargetProcess) (unlocker.TargetProcess, error) {
	fmt.Printf("Multiple processes found! Select a process to inject into (%d - %d):\n", 1, len(targets))
	for i, tp := range targets {
		fmt.Printf("[%d] [%v] %s (pid %d)\n", i+1, tp.Kind, tp.Name, tp.Pid)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n>")
		if !scanner.Scan() {
			return unlocker.TargetProcess{}, context.Canceled
		}
		selection, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil {
			fmt.Println("Invalid input, try again")
			continue
		}
		if selection < 1 || selection > len(targets) {
			fmt.Printf("Please enter a number between %d and %d\n", 1, len(targets))
			continue
		}
		return targets[selection-1], nil
	}
}
