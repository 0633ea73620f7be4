package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/blukai/circlesync/internal/transport"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Timeouts mirror transport.Timeouts.
type Timeouts struct {
	Limit   uint32        `envconfig:"PEER_TIMEOUT_LIMIT" default:"32" validate:"min=1"`
	Minimum time.Duration `envconfig:"PEER_TIMEOUT_MIN" default:"1000ms" validate:"gt=0"`
	Maximum time.Duration `envconfig:"PEER_TIMEOUT_MAX" default:"4000ms" validate:"gtefield=Minimum"`
}

func (t Timeouts) Transport() transport.Timeouts {
	return transport.Timeouts{
		Limit:   t.Limit,
		Minimum: t.Minimum,
		Maximum: t.Maximum,
	}
}

type Logging struct {
	Level string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error fatal"`
	// File is where logs go instead of the console, rotated.
	File string `envconfig:"LOG_FILE"`
}

type Server struct {
	ListenAddr  string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1" validate:"required"`
	ListenPort  uint16        `envconfig:"LISTEN_PORT" default:"6005" validate:"min=1"`
	MaxPeers    int           `envconfig:"MAX_PEERS" default:"100" validate:"min=1,max=4095"`
	PollTimeout time.Duration `envconfig:"POLL_TIMEOUT" default:"15ms" validate:"gt=0"`
	// AdminAddr enables the admin http server when set, e.g. "127.0.0.1:6006".
	AdminAddr string `envconfig:"ADMIN_ADDR" validate:"omitempty,hostname_port"`

	Timeouts
	Logging
}

// Addr is listen address and port joined.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.ListenAddr, strconv.Itoa(int(s.ListenPort)))
}

type Client struct {
	ServerAddr     string        `envconfig:"SERVER_ADDR" default:"127.0.0.1:6005" validate:"required,hostname_port"`
	SendEveryTicks int           `envconfig:"SEND_EVERY_TICKS" default:"3" validate:"min=1"`
	TickRate       int           `envconfig:"TICK_RATE" default:"50" validate:"min=1,max=1000"`
	MoveRadius     float32       `envconfig:"MOVE_RADIUS" default:"5" validate:"gte=0"`
	Lifetime       time.Duration `envconfig:"LIFETIME" validate:"gte=0"`

	Timeouts
	Logging
}

// TickInterval is the fixed simulation step.
func (c *Client) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

func LoadServer() (*Server, error) {
	config := new(Server)
	if err := load(config); err != nil {
		return nil, err
	}
	return config, nil
}

func LoadClient() (*Client, error) {
	config := new(Client)
	if err := load(config); err != nil {
		return nil, err
	}
	return config, nil
}

func load(config any) error {
	if err := envconfig.Process("", config); err != nil {
		return fmt.Errorf("could not process env: %w", err)
	}
	if err := Validate(config); err != nil {
		return err
	}
	return nil
}

var validate = validator.New()

func Validate(config any) error {
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
