package domain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var ErrUnknownMetric = errors.New("unknown system metric")

// Source produces a fresh value for a key.
type Source interface {
	Acquire(ctx context.Context, key string) (string, error)
}

type SourceFunc func(ctx context.Context, key string) (string, error)

func (f SourceFunc) Acquire(ctx context.Context, key string) (string, error) { return f(ctx, key) }

// Static always returns the same value.
func Static(value string) Source {
	return SourceFunc(func(context.Context, string) (string, error) { return value, nil })
}

// SystemSource samples host metrics. Supported keys: cpu, mem, load1, procs.
type SystemSource struct{}

func (SystemSource) Acquire(ctx context.Context, key string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "cpu":
		pct, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return "", err
		}
		if len(pct) == 0 {
			return "", errors.New("cpu: no samples")
		}
		return formatFloat(pct[0]), nil
	case "mem":
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return "", err
		}
		return formatFloat(vm.UsedPercent), nil
	case "load1":
		avg, err := load.AvgWithContext(ctx)
		if err != nil {
			return "", err
		}
		return formatFloat(avg.Load1), nil
	case "procs":
		pids, err := process.PidsWithContext(ctx)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(len(pids)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, key)
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// PromptSource asks an operator for the value on a terminal.
// The read blocks the whole twin iteration until a line arrives.
type PromptSource struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewPromptSource(in io.Reader, out io.Writer) *PromptSource {
	return &PromptSource{in: bufio.NewReader(in), out: out}
}

func (p *PromptSource) Acquire(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		fmt.Fprintf(p.out, "Input value for %s: ", key)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
