// Package remote implements the ML model service against an inference server reached over a
// websocket, and the matching server side.
package remote

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/services/mlmodel"
)

// Config is the remote backend's configuration.
type Config struct {
	Address string `json:"remote_address"`
}

// URL turns a host:port or a full ws(s):// address into the websocket URL.
func (c Config) URL() (string, error) {
	if c.Address == "" {
		return "", errors.New("remote address is empty")
	}
	if strings.HasPrefix(c.Address, "ws://") || strings.HasPrefix(c.Address, "wss://") {
		u, err := url.Parse(c.Address)
		if err != nil {
			return "", errors.Wrapf(err, "invalid remote address %q", c.Address)
		}
		return u.String(), nil
	}
	u := url.URL{Scheme: "ws", Host: c.Address, Path: "/ws"}
	return u.String(), nil
}

// Client is an mlmodel.Service backed by a remote inference server. Every call is one
// request/reply exchange; calls are serialized. A connection that fails is dropped and the
// next call redials.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger logging.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   uint64
	metadata *mlmodel.MLMetadata
	closed   bool
}

// NewClient dials the server once to fail fast on a bad address.
func NewClient(ctx context.Context, conf Config, logger logging.Logger) (*Client, error) {
	u, err := conf.URL()
	if err != nil {
		return nil, err
	}
	c := &Client{url: u, dialer: websocket.DefaultDialer, logger: logger}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// dial must be called with mu held.
func (c *Client) dial(ctx context.Context) error {
	c.logger.Debugw("connecting to inference server", "url", c.url)
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		goutils.UncheckedError(resp.Body.Close())
	}
	if err != nil {
		return errors.Wrapf(err, "connecting to inference server %s", c.url)
	}
	c.conn = conn
	return nil
}

// roundTrip sends req and waits for its reply. Cancelling ctx closes the connection, which
// unblocks the read; the next call redials.
func (c *Client) roundTrip(ctx context.Context, req request) (*reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("remote model is closed")
	}
	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			return nil, err
		}
	}
	c.nextID++
	req.ID = c.nextID

	conn := c.conn
	done := make(chan struct{})
	defer close(done)
	goutils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
			goutils.UncheckedError(conn.Close())
		case <-done:
		}
	})

	rep, err := c.exchange(conn, req)
	if err != nil {
		c.logger.Debugw("dropping inference server connection", "error", err)
		goutils.UncheckedError(conn.Close())
		c.conn = nil
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if rep.Error != "" {
		return nil, errors.Errorf("inference server: %s", rep.Error)
	}
	return rep, nil
}

func (c *Client) exchange(conn *websocket.Conn, req request) (*reply, error) {
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request")
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return nil, errors.Wrap(err, "sending request")
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "reading reply")
	}
	var rep reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, errors.Wrap(err, "decoding reply")
	}
	if rep.ID != req.ID {
		return nil, errors.Errorf("reply id %d does not match request id %d", rep.ID, req.ID)
	}
	return &rep, nil
}

// Infer sends the tensors to the server and returns its outputs.
func (c *Client) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	encoded, err := encodeTensors(tensors)
	if err != nil {
		return nil, err
	}
	rep, err := c.roundTrip(ctx, request{Op: opInfer, Tensors: encoded})
	if err != nil {
		return nil, err
	}
	return decodeTensors(rep.Tensors)
}

// Metadata asks the server for the model's metadata once and caches it.
func (c *Client) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	c.mu.Lock()
	cached := c.metadata
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	rep, err := c.roundTrip(ctx, request{Op: opMetadata})
	if err != nil {
		return mlmodel.MLMetadata{}, err
	}
	if rep.Metadata == nil {
		return mlmodel.MLMetadata{}, errors.New("inference server sent no metadata")
	}
	c.mu.Lock()
	c.metadata = rep.Metadata
	c.mu.Unlock()
	return *rep.Metadata, nil
}

// Close closes the connection. Further calls fail.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	goutils.UncheckedError(conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	))
	return conn.Close()
}

// Runtime is the readiness check for a remote inference server: the server must accept a
// websocket connection.
type Runtime struct {
	Config Config
}

// Ready dials and closes the inference websocket.
func (r Runtime) Ready(ctx context.Context) error {
	u, err := r.Config.URL()
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		goutils.UncheckedError(resp.Body.Close())
	}
	if err != nil {
		return errors.Wrapf(err, "inference server %s is unreachable", u)
	}
	return conn.Close()
}
