package worker

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	backoffFactor  = 1.3
	maxPollingWait = 60 * time.Second
)

// DefaultNextPollingFrequency grows the wait by 30% up to a minute. With a
// debugger attached it stays at one second.
func DefaultNextPollingFrequency(current time.Duration) time.Duration {
	if debuggerAttached() {
		return time.Second
	}
	return nextPollingFrequency(current)
}

func nextPollingFrequency(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > maxPollingWait {
		return maxPollingWait
	}
	return next
}

var debuggerAttached = sync.OnceValue(func() bool {
	status, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}
	sc := bufio.NewScanner(bytes.NewReader(status))
	for sc.Scan() {
		line := sc.Text()
		if pid, ok := strings.CutPrefix(line, "TracerPid:"); ok {
			pid = strings.TrimSpace(pid)
			return pid != "" && pid != "0"
		}
	}
	return false
})

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
