package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/voicecoach/internal/live"
)

const (
	liveWSURL    = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
)

// ErrMissingAPIKey is returned by Dial when no API key is configured.
var ErrMissingAPIKey = errors.New("gemini: API key is missing")

// Config holds configuration for the Live API client.
type Config struct {
	APIKey       string
	URL          string        // defaults to the public Live endpoint
	Model        string        // e.g., "gemini-2.5-flash-native-audio-preview-09-2025"
	SetupTimeout time.Duration // how long to wait for setupComplete
	WriteTimeout time.Duration
	SendBuffer   int // outbound frames queued before TrySend refuses
	Logger       *log.Logger
}

// Dialer opens Live API sessions. It implements live.Dialer.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *log.Logger
}

// NewDialer creates a dialer, filling in defaults.
func NewDialer(cfg Config) *Dialer {
	if cfg.URL == "" {
		cfg.URL = liveWSURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.SetupTimeout <= 0 {
		cfg.SetupTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dialer{cfg: cfg, ws: websocket.DefaultDialer, logger: logger}
}

// Dial connects, sends the setup message and waits for the server to
// acknowledge it.
func (d *Dialer) Dial(ctx context.Context, setup live.Setup) (live.Stream, error) {
	if d.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Live API URL: %w", err)
	}
	q := u.Query()
	q.Set("key", d.cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := d.ws.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini Live: %w", err)
	}

	if err := d.handshake(ctx, conn, setup); err != nil {
		conn.Close()
		return nil, err
	}

	client := &Client{
		conn:         conn,
		frames:       make(chan live.Frame, d.cfg.SendBuffer),
		events:       make(chan live.Event, 100),
		done:         make(chan struct{}),
		logger:       d.logger,
		writeTimeout: d.cfg.WriteTimeout,
	}

	client.wg.Add(2)
	go client.readLoop()
	go client.writeLoop()

	d.logger.Printf("gemini: session open (model=%s voice=%s)", d.cfg.Model, setup.Voice)
	return client, nil
}

func (d *Dialer) handshake(ctx context.Context, conn *websocket.Conn, setup live.Setup) error {
	// Unblock reads if the caller gives up during setup
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msg, err := encodeSetup(modelPath(d.cfg.Model), setup)
	if err != nil {
		return fmt.Errorf("failed to encode setup: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to send setup: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(d.cfg.SetupTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("setup rejected (code %d): %s", ce.Code, ce.Text)
			}
			return fmt.Errorf("waiting for setup acknowledgement: %w", err)
		}
		resp, err := decodeServerMessage(raw)
		if err != nil {
			d.logger.Printf("gemini: ignoring message during setup: %v", err)
			continue
		}
		if resp.setupComplete {
			return nil
		}
	}
}

func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// Client is an open Live API session. It implements live.Stream.
type Client struct {
	conn         *websocket.Conn
	frames       chan live.Frame
	events       chan live.Event
	done         chan struct{}
	closeOnce    sync.Once
	mu           sync.Mutex // serializes writes
	wg           sync.WaitGroup
	logger       *log.Logger
	writeTimeout time.Duration
}

// TrySend queues a microphone frame. It never blocks; a full queue or a
// closed client refuses the frame.
func (c *Client) TrySend(frame live.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

// Events returns the inbound event channel.
func (c *Client) Events() <-chan live.Event {
	return c.events
}

// Close sends a close frame and tears down the connection without waiting
// for the server to answer.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		err = c.conn.Close()

		// Wait for both loops before closing the event channel
		c.wg.Wait()
		close(c.events)
	})
	return err
}

func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.frames:
			msg, err := encodeAudio(base64.StdEncoding.EncodeToString(frame.PCM), frame.MIMEType())
			if err != nil {
				c.logger.Printf("gemini: failed to encode frame %d: %v", frame.Seq, err)
				continue
			}

			c.mu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err = c.conn.WriteMessage(websocket.TextMessage, msg)
			c.mu.Unlock()

			if err != nil {
				select {
				case <-c.done:
					return
				default:
				}
				// The read loop reports the broken connection
				c.logger.Printf("gemini: failed to send frame %d: %v", frame.Seq, err)
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.emit(closeEvent(err))
			return
		}

		resp, err := decodeServerMessage(msg)
		if err != nil {
			c.logger.Printf("gemini: %v", err)
			continue
		}
		if resp.goAway != nil {
			c.logger.Printf("gemini: server going away (time left %s)", resp.goAway.TimeLeft)
		}
		for _, ev := range resp.events {
			if !c.emit(ev) {
				return
			}
		}
	}
}

func (c *Client) emit(ev live.Event) bool {
	select {
	case <-c.done:
		return false
	case c.events <- ev:
		return true
	}
}

func closeEvent(err error) live.Event {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return live.ClosedEvent{
			Code:   ce.Code,
			Reason: ce.Text,
			Clean:  ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway,
		}
	}
	return live.ErrorEvent{Err: fmt.Errorf("read error: %w", err)}
}
