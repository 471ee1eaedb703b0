package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

const maxEventSize = 16 * 1024 * 1024

//Subscription is a live feed of whole snapshots read from the pin stream
type Subscription struct {
	ch     chan []domain.Pin
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

//Subscribe opens the pin stream. It returns once the server has accepted the subscription,
//the first snapshot follows right after. The stream is released by Close or when ctx is done.
func (c *Client) Subscribe(ctx context.Context, query domain.PinQuery) (*Subscription, error) {
	path, err := c.pinsPath("/api/pins/stream", query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	// the stream is long lived, only ctx may end it
	streaming := *c.http
	streaming.Timeout = 0

	resp, err := streaming.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, readStatusError(resp)
	}

	sub := &Subscription{
		ch:     make(chan []domain.Pin, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go sub.run(ctx, resp)

	return sub, nil
}

//Snapshots delivers the latest snapshot. Snapshots that were never received are replaced by newer
//ones. The channel is closed when the stream ends.
func (s *Subscription) Snapshots() <-chan []domain.Pin {
	return s.ch
}

//Close releases the stream and waits for it to wind down. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

//Err returns why the stream ended, or nil if it was closed by the viewer
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) run(ctx context.Context, resp *http.Response) {
	defer close(s.done)
	defer close(s.ch)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	event, data := "", strings.Builder{}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if event == EventSnapshot {
				s.handleSnapshot(data.String())
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		err = errors.New("pin stream closed by server")
	}

	log.Infof("Pin stream ended: %s", err.Error())

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) handleSnapshot(data string) {
	pins := []domain.Pin{}
	if err := json.Unmarshal([]byte(data), &pins); err != nil {
		log.Errorf("Discarding malformed snapshot: %s", err.Error())
		return
	}

	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- pins:
	default:
	}
}

//Event names sent on the pin stream
const (
	EventSnapshot  = "snapshot"
	EventHeartbeat = "heartbeat"
)
