package push

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"quill/internal/logging"
)

// Options configures a Subscriber.
type Options struct {
	BaseURL           string
	APIToken          string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Subscriber maintains a server-sent-events connection to the backend and
// forwards normalized events to a handler. Connectivity transitions are
// synthesized as connection_health_changed events so the consumer never has
// to know about the transport.
type Subscriber struct {
	baseURL        string
	apiToken       string
	reconnectDelay time.Duration
	maxDelay       time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
	handler        Handler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSubscriber builds an event stream subscriber.
func NewSubscriber(opts Options, handler Handler) (*Subscriber, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		return nil, errors.New("push subscriber requires base url")
	}
	if handler == nil {
		return nil, errors.New("push subscriber requires handler")
	}
	reconnect := opts.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	maxDelay := opts.MaxReconnectDelay
	if maxDelay < reconnect {
		maxDelay = reconnect
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No overall timeout: the stream is expected to stay open.
		httpClient = &http.Client{}
	}
	return &Subscriber{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiToken:       strings.TrimSpace(opts.APIToken),
		reconnectDelay: reconnect,
		maxDelay:       maxDelay,
		httpClient:     httpClient,
		logger:         logging.WithComponent(opts.Logger, "push"),
		handler:        handler,
	}, nil
}

// Start launches the subscription loop until the context is canceled.
func (s *Subscriber) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()
}

// Stop tears down the subscription and waits for the loop to exit.
func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Subscriber) run(ctx context.Context) {
	delay := s.reconnectDelay
	connected := false

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.stream(ctx, func() {
			if !connected {
				connected = true
				delay = s.reconnectDelay
				s.logger.Info("event stream connected")
				s.handler(Event{Type: EventConnectionHealthChanged, Healthy: true, Connected: true})
			}
		})
		if ctx.Err() != nil {
			return
		}

		if connected {
			connected = false
			s.handler(Event{Type: EventConnectionHealthChanged, Healthy: false, Connected: false})
		}
		s.logger.Warn("event stream disconnected",
			logging.Error(err),
			logging.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.maxDelay)
	}
}

// stream opens one connection and consumes it until it fails. onConnect is
// invoked once the stream is established.
func (s *Subscriber) stream(ctx context.Context, onConnect func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %d", resp.StatusCode)
	}

	onConnect()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if data.Len() > 0 {
				s.dispatch(data.String())
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keep-alive
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(value, " "))
		}
	}
	if data.Len() > 0 {
		s.dispatch(data.String())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return errors.New("event stream closed by server")
}

func (s *Subscriber) dispatch(payload string) {
	event, err := ParseEvent([]byte(payload))
	if err != nil {
		s.logger.Debug("dropping malformed event", logging.Error(err))
		return
	}
	s.handler(event)
}

// ParseEvent decodes a single event payload into a normalized Event.
func ParseEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch event.Type {
	case EventProgressUpdate:
		if strings.TrimSpace(event.JobID) == "" {
			return Event{}, errors.New("progress_update missing job_id")
		}
	case EventConnectionHealthChanged:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", event.Type)
	}
	return event, nil
}
