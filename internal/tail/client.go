package tail

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Watch connects to a dwqw tail server and streams Chunks for jobID to
// the returned channel until ctx is cancelled or the connection drops.
// Used by dwqc's optional --tail flag; purely observational, never part
// of the completion path.
func Watch(ctx context.Context, addr, jobID string) (<-chan Chunk, error) {
	url := fmt.Sprintf("ws://%s/tail?job=%s", addr, jobID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial tail server: %w", err)
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		for {
			var c Chunk
			if err := conn.ReadJSON(&c); err != nil {
				return
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
