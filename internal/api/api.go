package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
	"github.com/thatsimonsguy/incubator-controller/internal/state"
)

type HandlerFunc func(req *Request) (Response, error)

// Route matches on method and path. Prefix routes match any path under Path
// and are tried after exact routes.
type Route struct {
	Method  string
	Path    string
	Prefix  bool
	Handler HandlerFunc
}

func (rt Route) Name() string {
	return rt.Method + " " + rt.Path
}

func (rt Route) matches(req *Request) bool {
	if rt.Method != req.Method {
		return false
	}
	if rt.Prefix {
		return strings.HasPrefix(req.Path, rt.Path)
	}
	return rt.Path == req.Path
}

// RequestObserver is told about every completed exchange. route is empty when nothing matched.
type RequestObserver interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
}

type Options struct {
	Channel         *state.Channel
	Files           fs.FS
	DefaultDocument string
	Limits          Limits
	ReadTimeout     time.Duration
	AcceptTimeout   time.Duration
	Observer        RequestObserver
}

type Server struct {
	channel       *state.Channel
	files         fs.FS
	defaultDoc    string
	limits        Limits
	readTimeout   time.Duration
	acceptTimeout time.Duration
	observer      RequestObserver
	routes        []Route
}

type SwitchStateRequest struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func NewServer(opts Options) *Server {
	if opts.DefaultDocument == "" {
		opts.DefaultDocument = "index.html"
	}
	if opts.Limits.MaxHeaderBytes <= 0 {
		opts.Limits.MaxHeaderBytes = DefaultLimits.MaxHeaderBytes
	}
	if opts.Limits.MaxBodyBytes <= 0 {
		opts.Limits.MaxBodyBytes = DefaultLimits.MaxBodyBytes
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = time.Second
	}

	s := &Server{
		channel:       opts.Channel,
		files:         opts.Files,
		defaultDoc:    opts.DefaultDocument,
		limits:        opts.Limits,
		readTimeout:   opts.ReadTimeout,
		acceptTimeout: opts.AcceptTimeout,
		observer:      opts.Observer,
	}
	s.routes = []Route{
		{Method: "GET", Path: "/get_values", Handler: s.getValues},
		{Method: "POST", Path: "/set_switch_state", Handler: s.setSwitchState},
		{Method: "GET", Path: "/", Prefix: true, Handler: s.serveFile},
	}
	return s
}

func (s *Server) Routes() []Route {
	return s.routes
}

func (s *Server) route(req *Request) (Route, bool) {
	for _, rt := range s.routes {
		if !rt.Prefix && rt.matches(req) {
			return rt, true
		}
	}
	for _, rt := range s.routes {
		if rt.Prefix && rt.matches(req) {
			return rt, true
		}
	}
	return Route{}, false
}

// ListenAndServe listens on port and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Info().Str("address", addr).Msg("Starting control plane")
	return s.Serve(ctx, ln)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// Serve handles one connection at a time until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if d, ok := ln.(deadliner); ok {
			d.SetDeadline(time.Now().Add(s.acceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Error().Err(err).Msg("Accept failed")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.HandleConn(conn)
	}
}

// HandleConn reads one request, responds and closes the connection.
func (s *Server) HandleConn(conn net.Conn) {
	start := time.Now()
	id := uuid.NewString()
	logger := log.With().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Logger()
	defer conn.Close()

	conn.SetDeadline(start.Add(s.readTimeout))

	req, err := ReadRequest(bufio.NewReader(conn), s.limits)
	if err != nil {
		if errors.Is(err, io.EOF) {
			logger.Debug().Msg("Connection closed before request")
			return
		}
		if !errors.Is(err, ErrMalformedRequest) {
			logger.Warn().Err(err).Msg("Socket failure while reading request")
			return
		}
		logger.Warn().Err(err).Msg("Malformed request")
		s.respond(conn, logger, "", NotFound("Bad request"), start)
		return
	}

	rt, resp := s.Dispatch(req)
	logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("route", rt).
		Int("status", resp.Status).
		Msg("Request handled")
	s.respond(conn, logger, rt, resp, start)
}

func (s *Server) respond(conn net.Conn, logger zerolog.Logger, route string, resp Response, start time.Time) {
	if _, err := resp.WriteTo(conn); err != nil {
		logger.Warn().Err(err).Msg("Socket failure while writing response")
	}
	if s.observer != nil {
		s.observer.ObserveRequest(route, resp.Status, time.Since(start))
	}
}

// Dispatch routes req and runs its handler. Handler errors and panics become 404s.
func (s *Server) Dispatch(req *Request) (route string, resp Response) {
	rt, ok := s.route(req)
	if !ok {
		return "", NotFound("Not found")
	}
	route = rt.Name()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("route", route).Msg("Handler panicked")
			resp = NotFound("Internal error")
		}
	}()

	resp, err := rt.Handler(req)
	if err != nil {
		log.Warn().Err(err).Str("route", route).Msg("Handler failed")
		return route, NotFound(err.Error())
	}
	return route, resp
}

func (s *Server) getValues(req *Request) (Response, error) {
	snap := s.channel.Latest()
	if snap == nil {
		snap = model.NewSnapshot(0, time.Time{}, model.ModeManual, nil, nil, nil)
	}
	body, err := json.Marshal(snap.Values())
	if err != nil {
		return Response{}, fmt.Errorf("encode values: %w", err)
	}
	return OK("application/json", body), nil
}

func (s *Server) setSwitchState(req *Request) (Response, error) {
	var in SwitchStateRequest
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	st, err := model.ParseState(in.State)
	if err != nil {
		return Response{}, err
	}

	switch {
	case in.ID == model.ModeSwitchKey:
		s.channel.SubmitModeSwitch(model.ModeFromSwitch(st))
	case model.IsActuatorID(in.ID):
		s.channel.SubmitOverride(model.ActuatorID(in.ID), st)
	default:
		return Response{}, fmt.Errorf("unknown actuator %q", in.ID)
	}

	log.Info().Str("actuator", in.ID).Str("state", in.State).Msg("Switch state submitted")
	return OK("", nil), nil
}

func (s *Server) serveFile(req *Request) (Response, error) {
	name := strings.TrimPrefix(req.Path, "/")
	if name == "" {
		name = s.defaultDoc
	}
	if s.files == nil || !fs.ValidPath(name) {
		return Response{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	data, err := fs.ReadFile(s.files, name)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return OK(ctype, data), nil
}
