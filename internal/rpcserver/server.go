package rpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/oliana-project/oliana/internal/session"
	"github.com/oliana-project/oliana/internal/supervisor"
)

const (
	perIPChannelCap  = 128
	pendingAcceptCap = 10
)

// Gateway is the RPC-facing half of the server: it owns the dual-stack
// listeners, the per-IP channel accounting, and dispatches decoded calls
// to the Job Inbox/Outbox for the session that owns the connection.
type Gateway struct {
	log  *slog.Logger
	sup  *supervisor.Supervisor
	port int

	textWorkdir  string
	imageWorkdir string

	lastClientActivity atomic.Int64 // unix nanos

	acceptSem *semaphore.Weighted

	ipMu     sync.Mutex
	ipCounts map[string]int
}

type sessionState struct {
	sess *session.Session
}

// New builds a Gateway. sup is consulted to clear the stop latch on
// accept and on every begin call.
func New(log *slog.Logger, sup *supervisor.Supervisor, port int, textWorkdir, imageWorkdir string) *Gateway {
	g := &Gateway{
		log:          log,
		sup:          sup,
		port:         port,
		textWorkdir:  textWorkdir,
		imageWorkdir: imageWorkdir,
		acceptSem:    semaphore.NewWeighted(pendingAcceptCap),
		ipCounts:     make(map[string]int),
	}
	g.lastClientActivity.Store(time.Now().UnixNano())
	return g
}

// LastClientActivity returns the last time any session was accepted or
// issued a begin call, for the Idle Controller's idle computation.
func (g *Gateway) LastClientActivity() time.Time {
	return time.Unix(0, g.lastClientActivity.Load())
}

func (g *Gateway) touchActivity() {
	g.lastClientActivity.Store(time.Now().UnixNano())
	g.sup.SetProcsShouldBeStopped(false)
}

// Run starts the v4 and v6 listeners on the same port and blocks until
// ctx is cancelled. A failure to bind one stack is logged; the other
// stack continues serving.
func (g *Gateway) Run(ctx context.Context) error {
	v6, v6Err := net.Listen("tcp6", fmt.Sprintf(":%d", g.port))
	v4, v4Err := net.Listen("tcp4", fmt.Sprintf(":%d", g.port))

	if v6Err != nil && v4Err != nil {
		return fmt.Errorf("bind port %d on both stacks: v6=%v v4=%v", g.port, v6Err, v4Err)
	}

	var wg sync.WaitGroup
	if v6Err == nil {
		g.log.Info("listening", "stack", "tcp6", "port", g.port)
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.acceptLoop(ctx, v6)
		}()
	} else {
		g.log.Warn("tcp6 listen failed", "err", v6Err)
	}
	if v4Err == nil {
		g.log.Info("listening", "stack", "tcp4", "port", g.port)
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.acceptLoop(ctx, v4)
		}()
	} else {
		g.log.Warn("tcp4 listen failed", "err", v4Err)
	}

	<-ctx.Done()
	if v6Err == nil {
		v6.Close()
	}
	if v4Err == nil {
		v4.Close()
	}
	wg.Wait()
	return nil
}

func (g *Gateway) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		if err := g.acceptSem.Acquire(ctx, 1); err != nil {
			return // context cancelled
		}

		conn, err := ln.Accept()
		if err != nil {
			g.acceptSem.Release(1)
			select {
			case <-ctx.Done():
				return
			default:
			}
			g.log.Warn("accept failed", "err", err)
			continue
		}

		ip := remoteIP(conn)
		if !g.admitIP(ip) {
			g.log.Warn("per-IP channel cap exceeded, rejecting", "ip", ip, "cap", perIPChannelCap)
			conn.Close()
			g.acceptSem.Release(1)
			continue
		}

		g.touchActivity()

		go func() {
			defer g.acceptSem.Release(1)
			defer g.releaseIP(ip)
			g.serveConn(conn)
		}()
	}
}

func (g *Gateway) admitIP(ip string) bool {
	g.ipMu.Lock()
	defer g.ipMu.Unlock()
	if g.ipCounts[ip] >= perIPChannelCap {
		return false
	}
	g.ipCounts[ip]++
	return true
}

func (g *Gateway) releaseIP(ip string) {
	g.ipMu.Lock()
	defer g.ipMu.Unlock()
	g.ipCounts[ip]--
	if g.ipCounts[ip] <= 0 {
		delete(g.ipCounts, ip)
	}
}

func (g *Gateway) serveConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	log := g.log.With("conn_id", connID, "peer", conn.RemoteAddr().String())
	log.Info("session accepted")
	defer log.Info("session closed")

	sess := &sessionState{sess: session.New(conn.RemoteAddr())}

	for {
		var req request
		if err := readFrame(conn, &req); err != nil {
			return // disconnect or framing error ends the session
		}

		resp := g.dispatch(sess, req)
		if err := writeFrame(conn, resp); err != nil {
			log.Warn("write frame failed", "err", err)
			return
		}
	}
}

func (g *Gateway) dispatch(sess *sessionState, req request) response {
	switch req.Method {
	case "generate_text_begin":
		var args textBeginArgs
		if err := decodeInto(req.Payload, &args); err != nil {
			return errResponse(err)
		}
		payload, err := encodePayload(g.handleTextBegin(sess, args))
		return finish(payload, err)

	case "generate_text_next_token":
		payload, err := encodePayload(g.handleTextNextToken(sess))
		return finish(payload, err)

	case "generate_image_begin":
		var args imageBeginArgs
		if err := decodeInto(req.Payload, &args); err != nil {
			return errResponse(err)
		}
		payload, err := encodePayload(g.handleImageBegin(sess, args))
		return finish(payload, err)

	case "generate_image_result_exists":
		payload, err := encodePayload(g.handleImageResultExists(sess))
		return finish(payload, err)

	case "generate_image_get_result":
		payload, err := encodePayload(g.handleImageGetResult(sess))
		return finish(payload, err)

	case "fetch_pci_hw_device_names":
		payload, err := encodePayload(g.handleListHardwareDevices())
		return finish(payload, err)

	default:
		return errResponse(fmt.Errorf("unknown method %q", req.Method))
	}
}

func finish(payload cbor.RawMessage, err error) response {
	if err != nil {
		return errResponse(err)
	}
	return response{Payload: payload}
}

func errResponse(err error) response {
	return response{Err: err.Error()}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func readErrorMessage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
