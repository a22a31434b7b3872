//go:build !linux

package capture

import (
	"context"
	"fmt"
	"runtime"
)

func (s *Source) acquire(ctx context.Context) (*localMedia, error) {
	return nil, fmt.Errorf("no capture backend on %s", runtime.GOOS)
}
