package unlocker

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
)

// ListTargets enumerates running target processes, sorted by pid.
func ListTargets(ctx context.Context, includeClient, includeStudio bool) ([]TargetProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing processes")
	}

	var targets []TargetProcess
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // exited or inaccessible
		}

		kind := KindOf(name)
		switch kind {
		case KindNone:
			continue
		case KindEditor:
			if !includeStudio {
				continue
			}
		default:
			if !includeClient {
				continue
			}
		}

		targets = append(targets, TargetProcess{Pid: uint32(p.Pid), Kind: kind, Name: name})
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].Pid < targets[j].Pid })
	return targets, nil
}
