// Package simulator is a scripted payment terminal. It answers
// discovery, acknowledges correlation ids and plays out configurable
// transaction outcomes, which makes it usable both as a development
// target for the CLI and as the far end in integration-style tests.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/zap"

	"github.com/luma/paylink/protocol"
)

// Script selects how the simulator resolves every transaction it is
// asked to run.
type Script string

const (
	// ScriptApprove finishes every transaction successfully.
	ScriptApprove Script = "approve"

	// ScriptCancel cancels every transaction, as if the customer backed
	// out on the terminal.
	ScriptCancel Script = "cancel"

	// ScriptSignature asks for signature verification first, then
	// approves once the client answers.
	ScriptSignature Script = "signature"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	// Script picks the transaction outcome. Defaults to ScriptApprove.
	Script Script

	// Serial and Model are reported in the discovery response.
	Serial string
	Model  string

	// DebugHTTP leaves gin in debug mode
	DebugHTTP bool

	Log *zap.Logger
}

// Simulator runs the terminal side of the websocket protocol.
type Simulator struct {
	opts     Options
	builder  *protocol.Builder
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	log      *zap.Logger
}

func New(options Options) *Simulator {
	if options.Script == "" {
		options.Script = ScriptApprove
	}
	if options.Serial == "" {
		options.Serial = "SIM0000000001"
	}
	if options.Model == "" {
		options.Model = "Simulated Terminal"
	}
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	return &Simulator{
		opts:    options,
		builder: protocol.NewBuilder(protocol.PackageLAN),
		upgrader: websocket.Upgrader{
			// The simulator trusts whoever can reach it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: options.Log.Named("simulator"),
	}
}

// Start begins serving. It returns once the listener is accepting.
func (s *Simulator) Start(ctx context.Context) error {
	router := s.setupRouter()

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	var (
		listener net.Listener
		err      error
	)
	if s.opts.Reuseport {
		listener, err = reuseport.Listen("tcp4", addr)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.server = &http.Server{Handler: router}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Simulator server errored", zap.Error(err))
		}
	}()

	s.log.Info("Simulated terminal listening",
		zap.String("addr", addr),
		zap.String("script", string(s.opts.Script)),
		zap.String("serial", s.opts.Serial))

	return nil
}

// Addr is the address the simulator is listening on, valid after Start.
func (s *Simulator) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Simulator) setupRouter() *gin.Engine {
	gin.DisableConsoleColor()
	if !s.opts.DebugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(s.log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))
	r.Use(ginzap.RecoveryWithZap(s.log, true))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/remote_pay", func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.log.Warn("Websocket upgrade failed", zap.Error(err))
			return
		}

		session := newSession(conn, s.builder, s.opts, s.log)
		go session.run()
	})

	return r
}

func (s *Simulator) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
