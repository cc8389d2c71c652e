// Package mediator wires every collaborator through a single struct (no
// package-level globals) and drives the top-level bootstrap: launching or
// attaching to a browser, establishing the CDP connection, and serving the
// BiDi-facing transport.
package mediator

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/google/uuid"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/cdpconn"
	"github.com/bidicdp/mediator/internal/config"
	"github.com/bidicdp/mediator/internal/eventmgr"
	"github.com/bidicdp/mediator/internal/input"
	"github.com/bidicdp/mediator/internal/logging"
	"github.com/bidicdp/mediator/internal/preload"
	"github.com/bidicdp/mediator/internal/processor"
	"github.com/bidicdp/mediator/internal/realm"
)

// Mediator is the wired, running instance: every singleton storage, the
// CDP connection, the BiDi command processor, and the transports that
// connect them to the outside world.
type Mediator struct {
	cfg *config.Config

	domains   *processor.Domains
	cmdProc   *processor.CommandProcessor
	events    *eventmgr.Manager

	cdpConn  *cdpconn.Connection
	launcher *launcher.Launcher

	bidiServer *bidi.WebSocketServer
	transport  bidi.Transport

	writeMu sync.Mutex
}

// New constructs a Mediator from a loaded configuration, wiring every
// storage and domain processor but not yet starting any I/O.
func New(cfg *config.Config) *Mediator {
	m := &Mediator{cfg: cfg}

	domains := processor.NewDomains()
	domains.Contexts = browsingcontext.New()
	domains.Realms = realm.New()
	domains.Preloads = preload.New()
	domains.SelfTargetID = cfg.SelfTargetID
	domains.NewUUID = uuid.NewString

	m.events = eventmgr.New(m) // Mediator implements eventmgr.Sink
	domains.Events = m.events

	m.domains = domains
	m.cmdProc = processor.New(m) // Mediator implements processor.ResponseSink

	return m
}

// DeliverEvent implements eventmgr.Sink by writing the event to the active
// BiDi transport.
func (m *Mediator) DeliverEvent(ev bidi.Event) {
	m.writeEnvelope(ev)
}

// SendResponse implements processor.ResponseSink.
func (m *Mediator) SendResponse(resp bidi.CommandResponse) {
	m.writeEnvelope(resp)
}

// SendError implements processor.ResponseSink.
func (m *Mediator) SendError(resp bidi.ErrorResponse) {
	m.writeEnvelope(resp)
}

func (m *Mediator) writeEnvelope(v interface{}) {
	data, err := bidi.Encode(v)
	if err != nil {
		logging.TransportError("failed to encode outbound envelope: %v", err)
		return
	}
	m.writeMu.Lock()
	t := m.transport
	m.writeMu.Unlock()
	if t == nil {
		return
	}
	if err := t.Send(context.Background(), data); err != nil {
		logging.TransportWarn("failed to send outbound envelope: %v", err)
	}
}

// Run launches/attaches the browser, connects CDP, starts the BiDi server,
// and serves until ctx is canceled.
func (m *Mediator) Run(ctx context.Context) error {
	debuggerURL, err := m.resolveBrowser()
	if err != nil {
		return fmt.Errorf("resolve browser: %w", err)
	}
	logging.Boot("browser debugger url: %s", debuggerURL)

	conn, err := cdpconn.Dial(ctx, debuggerURL)
	if err != nil {
		return fmt.Errorf("dial cdp: %w", err)
	}
	m.cdpConn = conn
	m.domains.Conn = conn
	m.domains.Input = input.NewDispatcher(conn)

	m.wireTargetEvents()
	processor.RegisterAll(m.cmdProc, m.domains)

	if _, err := conn.SendCommand(ctx, "", "Target.setDiscoverTargets", map[string]interface{}{"discover": true}); err != nil {
		return fmt.Errorf("Target.setDiscoverTargets: %w", err)
	}
	if _, err := conn.SendCommand(ctx, "", "Target.setAutoAttach", map[string]interface{}{"autoAttach": true, "waitForDebuggerOnStart": true, "flatten": true}); err != nil {
		return fmt.Errorf("Target.setAutoAttach: %w", err)
	}

	m.bidiServer = bidi.NewWebSocketServer(m.cfg.ListenAddr)
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- m.bidiServer.ListenAndServe(ctx) }()

	transport, err := m.bidiServer.Accept(ctx)
	if err != nil {
		return fmt.Errorf("accept bidi client: %w", err)
	}
	m.writeMu.Lock()
	m.transport = transport
	m.writeMu.Unlock()
	logging.Boot("bidi client connected")

	for {
		raw, err := transport.Receive(ctx)
		if err != nil {
			logging.BootWarn("bidi transport closed: %v", err)
			return nil
		}
		m.cmdProc.HandleMessage(ctx, raw)
	}
}

// resolveBrowser launches a local browser via go-rod's launcher when no
// debugger_url is configured.
func (m *Mediator) resolveBrowser() (string, error) {
	if m.cfg.Browser.DebuggerURL != "" {
		return m.cfg.Browser.DebuggerURL, nil
	}

	l := launcher.New()
	if m.cfg.Browser.Headless {
		l = l.Headless(true)
	} else {
		l = l.Headless(false)
	}
	for _, arg := range m.cfg.Browser.Launch {
		l = l.Set(flags.Flag(arg))
	}
	m.launcher = l

	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	return controlURL, nil
}

// Close tears down the CDP connection, the launched browser (if any), and
// the BiDi server.
func (m *Mediator) Close() {
	if m.cdpConn != nil {
		m.cdpConn.Close()
	}
	if m.bidiServer != nil {
		m.bidiServer.Close()
	}
	if m.launcher != nil {
		m.launcher.Kill()
	}
	logging.CloseAudit()
	logging.CloseAll()
}
