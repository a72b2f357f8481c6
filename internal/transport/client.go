package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/device"
)

// maxResponseBodySize bounds how much of a peer's response is read.
const maxResponseBodySize = 1 << 20

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout applies a per-call timeout on top of the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// Client speaks the fieldmesh wire contract. The zero timeout means the
// caller's context alone bounds each call.
type Client struct {
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a Client with a pooled transport.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetDatum asks the sensor at addr for one reading.
func (c *Client) GetDatum(ctx context.Context, addr string, kind datum.Kind, unit datum.Unit) (datum.Datum, error) {
	q := url.Values{}
	q.Set("kind", string(kind))
	q.Set("unit", string(unit))
	return c.getDatum(ctx, "get datum", addr, "/datum?"+q.Encode())
}

// GetEnvironmentDatum asks the environment at addr for the reading of device id.
func (c *Client) GetEnvironmentDatum(ctx context.Context, addr, id string, kind datum.Kind, unit datum.Unit) (datum.Datum, error) {
	q := url.Values{}
	q.Set("kind", string(kind))
	q.Set("unit", string(unit))
	return c.getDatum(ctx, "get environment datum", addr, "/datum/"+url.PathEscape(id)+"?"+q.Encode())
}

// SendCommand delivers cmd to the actuator at addr. A nil error means Accepted.
func (c *Client) SendCommand(ctx context.Context, addr string, cmd device.Command) error {
	return c.postCommand(ctx, "send command", addr, cmd, nil)
}

// SendEnvironmentCommand delivers cmd to the environment on behalf of device id.
func (c *Client) SendEnvironmentCommand(ctx context.Context, addr, id string, model device.Model, cmd device.Command) error {
	return c.postCommand(ctx, "send environment command", addr, cmd, http.Header{
		HeaderDeviceID:    []string{id},
		HeaderDeviceModel: []string{string(model)},
	})
}

// Health checks GET /health on addr.
func (c *Client) Health(ctx context.Context, addr string) error {
	resp, err := c.do(ctx, "health", addr, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &Error{Op: "health", Address: addr, Status: resp.StatusCode, Err: ErrUnexpectedStatus}
	}
	return nil
}

// Sensor binds the client to a sensor address.
func (c *Client) Sensor(addr string) device.Sensor {
	return remoteSensor{client: c, addr: addr}
}

// Actuator binds the client to an actuator address.
func (c *Client) Actuator(addr string) device.Actuator {
	return remoteActuator{client: c, addr: addr}
}

type remoteSensor struct {
	client *Client
	addr   string
}

func (r remoteSensor) GetDatum(ctx context.Context, kind datum.Kind, unit datum.Unit) (datum.Datum, error) {
	return r.client.GetDatum(ctx, r.addr, kind, unit)
}

type remoteActuator struct {
	client *Client
	addr   string
}

func (r remoteActuator) Command(ctx context.Context, cmd device.Command) error {
	return r.client.SendCommand(ctx, r.addr, cmd)
}

func (c *Client) getDatum(ctx context.Context, op, addr, path string) (datum.Datum, error) {
	resp, err := c.do(ctx, op, addr, http.MethodGet, path, nil, nil)
	if err != nil {
		return datum.Datum{}, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return datum.Datum{}, decodeFailure(op, addr, resp)
	}

	var d datum.Datum
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(&d); err != nil {
		if !errors.Is(err, datum.ErrMalformed) {
			err = fmt.Errorf("%w: %w", datum.ErrMalformed, err)
		}
		return datum.Datum{}, &Error{Op: op, Address: addr, Status: resp.StatusCode, Err: err}
	}
	return d, nil
}

func (c *Client) postCommand(ctx context.Context, op, addr string, cmd device.Command, header http.Header) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	if cmd.ID != "" {
		header.Set(HeaderCommandID, cmd.ID)
	}

	resp, err := c.do(ctx, op, addr, http.MethodPost, "/command", bytes.NewReader(body), header)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode/100 == 2 {
		return nil
	}
	return decodeFailure(op, addr, resp)
}

func (c *Client) do(ctx context.Context, op, addr, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+path, body)
	if err != nil {
		cancel()
		return nil, &Error{Op: op, Address: addr, Err: err}
	}
	resp, err := c.send(op, addr, req, header)
	if err != nil {
		cancel()
		return nil, err
	}

	// The caller reads the body after do returns.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Client) send(op, addr string, req *http.Request, header http.Header) (*http.Response, error) {
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Address: addr, Err: err}
	}
	return resp, nil
}

// decodeFailure maps a non-2xx response. A structured body with a known
// code is an application answer; anything else is a transport failure.
func decodeFailure(op, addr string, resp *http.Response) error {
	var body ErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err := json.Unmarshal(raw, &body); err == nil {
		switch body.Code {
		case CodeNotAvailable:
			return fmt.Errorf("%s %s: %w: %s", op, addr, device.ErrNotAvailable, body.Message)
		case CodeRejected:
			return &device.Rejection{Reason: body.Message}
		}
	}
	return &Error{Op: op, Address: addr, Status: resp.StatusCode, Err: ErrUnexpectedStatus}
}

func drain(body io.ReadCloser) {
	//nolint:errcheck // draining lets the connection be reused
	io.Copy(io.Discard, io.LimitReader(body, maxResponseBodySize))
	body.Close()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
