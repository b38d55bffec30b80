package ecoworthy

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

var (
	serviceUUID = bluetooth.New16BitUUID(0xFFF0)
	rxUUID      = bluetooth.New16BitUUID(0xFFF1)
)

var (
	ErrNotConnected = errors.New("ecoworthy: not connected")
	ErrTimeout      = errors.New("ecoworthy: timed out waiting for data")
)

// Client keeps a GATT connection to one BMS and collects its notifications
type Client struct {
	adapter *bluetooth.Adapter
	address string
	mac     []byte
	logger  *zap.Logger

	mu        sync.Mutex
	device    *bluetooth.Device
	data      Data
	gotStatus bool
	gotCells  bool
	ready     chan struct{}
}

// NewClient creates a client for the BMS with the given MAC address
func NewClient(adapter *bluetooth.Adapter, address string, logger *zap.Logger) (*Client, error) {
	mac, err := ParseMAC(address)
	if err != nil {
		return nil, err
	}

	return &Client{
		adapter: adapter,
		address: address,
		mac:     mac,
		logger:  logger,
		data:    Data{Address: address},
		ready:   make(chan struct{}, 1),
	}, nil
}

// Address returns the BMS address
func (c *Client) Address() string {
	return c.address
}

// Connected reports whether a GATT connection is established
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil
}

// Connect opens the GATT connection and subscribes to the notify characteristic
func (c *Client) Connect(addr bluetooth.Address) error {
	c.logger.Info("connecting to ECO-WORTHY BMS", zap.String("mac", c.address))

	device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return errors.Wrap(err, "failed to connect")
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err == nil && len(services) == 0 {
		err = errors.New("service fff0 not advertised")
	}
	if err != nil {
		_ = device.Disconnect()
		return errors.Wrap(err, "failed to find BMS service")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID})
	if err == nil && len(chars) == 0 {
		err = errors.New("characteristic fff1 not found")
	}
	if err != nil {
		_ = device.Disconnect()
		return errors.Wrap(err, "failed to find RX characteristic")
	}

	if err := chars[0].EnableNotifications(c.HandleNotification); err != nil {
		_ = device.Disconnect()
		return errors.Wrap(err, "failed to subscribe to notifications")
	}

	c.mu.Lock()
	c.device = &device
	c.mu.Unlock()

	c.logger.Info("connected to ECO-WORTHY BMS", zap.String("mac", c.address))
	return nil
}

// Disconnect closes the GATT connection
func (c *Client) Disconnect() error {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.mu.Unlock()

	if device == nil {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return errors.Wrap(err, "failed to disconnect")
	}
	return nil
}

// HandleNotification parses one notification payload
func (c *Client) HandleNotification(buf []byte) {
	packet, err := ParsePacket(buf, c.mac)
	if err != nil {
		c.logger.Debug("dropping BMS notification", zap.String("mac", c.address), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.Apply(packet); err != nil {
		c.logger.Warn("failed to parse BMS packet", zap.String("mac", c.address), zap.Error(err))
		return
	}

	switch packet.Header {
	case HeaderA1:
		c.gotStatus = true
	case HeaderA2:
		c.gotCells = true
	}
	c.data.LastUpdate = time.Now()

	if c.gotStatus && c.gotCells {
		select {
		case c.ready <- struct{}{}:
		default:
		}
	}
}

// Update waits until a fresh pair of status and cell packets has arrived
func (c *Client) Update(ctx context.Context) (Data, error) {
	if !c.Connected() {
		return Data{}, ErrNotConnected
	}

	c.mu.Lock()
	c.gotStatus, c.gotCells = false, false
	select {
	case <-c.ready:
	default:
	}
	c.mu.Unlock()

	select {
	case <-c.ready:
		return c.Data(), nil
	case <-ctx.Done():
		c.mu.Lock()
		status, cells := c.gotStatus, c.gotCells
		c.mu.Unlock()
		return Data{}, errors.Wrapf(ErrTimeout, "status=%v cells=%v", status, cells)
	}
}

// Data returns a copy of the latest combined readings
func (c *Client) Data() Data {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.data
	out.CellVoltages = append([]float64(nil), c.data.CellVoltages...)
	out.Temperatures = append([]float64(nil), c.data.Temperatures...)
	return out
}
