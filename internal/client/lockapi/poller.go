package lockapi

import (
	"context"
	"time"

	"github.com/atinyakov/sessionlock/internal/lock"
)

// StartPoller fetches the tab state every interval and calls onChange
// whenever the phase differs from the last one seen. It stops with ctx.
func (c *Client) StartPoller(ctx context.Context, interval time.Duration, onChange func(lock.State), onError func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := lock.PhaseUninitialized
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			st, err := c.State(ctx)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(err)
				}
				continue
			}
			if st.Phase != last {
				last = st.Phase
				onChange(st)
			}
		}
	}()
}
