package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	unlocker "github.com/zed-0xff/fpsunlocker"
	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Unlock every target process until interrupted (default)",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	addWatchFlags(watchCmd)
}

func addSettingsFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("fps", 0, "frame rate cap, 0 for unbounded")
	f.String("method", "hybrid", "unlock method: memory, flags or hybrid")
	f.Int("retries", 5, "discovery attempts before giving up on a process")
	f.Bool("client", true, "unlock the player")
	f.Bool("studio", true, "unlock studio")
	f.Int("threshold", 5, "candidate count expected from the protected scan")
}

func addWatchFlags(cmd *cobra.Command) {
	addSettingsFlags(cmd)
	f := cmd.Flags()
	f.Duration("interval", 2*time.Second, "process poll interval")
	f.Bool("silent-errors", false, "only log errors")
}

func settingsFromFlags(cmd *cobra.Command) (*unlocker.Settings, error) {
	f := cmd.Flags()
	s := unlocker.DefaultSettings()

	fps, err := f.GetFloat64("fps")
	if err != nil {
		return nil, err
	}
	s.SetFPSCap(fps)

	name, err := f.GetString("method")
	if err != nil {
		return nil, err
	}
	method, err := unlocker.ParseUnlockMethod(name)
	if err != nil {
		return nil, err
	}
	s.SetUnlockMethod(method)

	if s.RetryCount, err = f.GetInt("retries"); err != nil {
		return nil, err
	}
	if s.UnlockClient, err = f.GetBool("client"); err != nil {
		return nil, err
	}
	if s.UnlockStudio, err = f.GetBool("studio"); err != nil {
		return nil, err
	}
	if s.CandidateThreshold, err = f.GetInt("threshold"); err != nil {
		return nil, err
	}
	if f.Lookup("interval") != nil {
		if s.PollInterval, err = f.GetDuration("interval"); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	settings, err := settingsFromFlags(cmd)
	if err != nil {
		return err
	}
	silent, _ := cmd.Flags().GetBool("silent-errors")

	watcher := unlocker.NewWatcher(settings, unlocker.NewConsoleNotifier(silent))
	defer watcher.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return control(ctx, os.Stdin, settings, watcher)
	})

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// control reads commands from in until quit, EOF or cancellation. It
// only touches the atomics of settings and the watcher count.
func control(ctx context.Context, in io.Reader, settings *unlocker.Settings, watcher *unlocker.Watcher) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				// no console attached, keep watching
				<-ctx.Done()
				return nil
			}
			line = l
		}

		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}

		switch strings.ToLower(f[0]) {
		case "fps":
			if len(f) != 2 {
				fmt.Println("[?] usage: fps <n>")
				continue
			}
			fps, err := strconv.ParseFloat(f[1], 64)
			if err == nil {
				err = unlocker.CheckFPSCap(fps)
			}
			if err != nil {
				fmt.Println("[?] Invalid fps:", f[1])
				continue
			}
			settings.SetFPSCap(fps)
		case "method":
			if len(f) != 2 {
				fmt.Println("[?] usage: method <memory|flags|hybrid>")
				continue
			}
			method, err := unlocker.ParseUnlockMethod(f[1])
			if err != nil {
				fmt.Println("[?]", err)
				continue
			}
			settings.SetUnlockMethod(method)
		case "status":
			fmt.Printf("[.] attached: %d, fps cap: %v, method: %v\n",
				watcher.Count(), settings.FPSCap(), settings.UnlockMethod())
		case "quit", "exit":
			return nil
		default:
			fmt.Println("[?] commands: fps <n>, method <memory|flags|hybrid>, status, quit")
		}
	}
}
