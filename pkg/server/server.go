package server

import (
	"context"
	"time"

	"github.com/bastiangx/popcomplete/internal/logger"
	"github.com/bastiangx/popcomplete/pkg/complete"
	"github.com/bastiangx/popcomplete/pkg/controller"
	"github.com/bastiangx/popcomplete/pkg/preview"
	"github.com/bastiangx/popcomplete/pkg/sources"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Server dispatches host frames to the controller, the document mirror and
// the source registry.
type Server struct {
	bridge   *Bridge
	ctl      *controller.Controller
	docs     *Workspace
	registry *sources.Registry
	version  string
	log      *log.Logger
	started  time.Time
	wg       conc.WaitGroup
}

func NewServer(bridge *Bridge, ctl *controller.Controller, docs *Workspace, registry *sources.Registry, version string) *Server {
	return &Server{
		bridge:   bridge,
		ctl:      ctl,
		docs:     docs,
		registry: registry,
		version:  version,
		log:      logger.New("server"),
		started:  time.Now(),
	}
}

// Start serves until the host closes the stream or ctx is done, then waits
// for running handlers.
func (s *Server) Start(ctx context.Context) error {
	s.log.Debug("starting server", "version", s.version)
	s.bridge.Notify("ready", HealthResponse{Status: "ready", Version: s.version})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := s.bridge.Serve(ctx, func(f *Frame) { s.handle(ctx, f) })
	s.ctl.Stop()
	cancel()
	s.wg.Wait()
	return err
}

// handle runs state updates inline so they apply in arrival order. Handlers
// that wait on the host or on sources run on their own goroutine.
func (s *Server) handle(ctx context.Context, f *Frame) {
	switch f.Kind {
	case KindEvent:
		s.handleEvent(ctx, f)
	case KindRequest:
		s.handleRequest(ctx, f)
	default:
		s.log.Warn("unexpected frame", "kind", f.Kind, "name", f.Name)
	}
}

func (s *Server) async(name string, fn func()) {
	s.wg.Go(func() {
		if r := panics.Try(fn); r != nil {
			s.log.Errorf("%s handler panicked: %+v", name, r.AsError())
		}
	})
}

// handleEvent runs on the read loop. Handlers that may suspend run on their
// own goroutine and are admitted here so they take the controller lock in
// arrival order.
func (s *Server) handleEvent(ctx context.Context, f *Frame) {
	switch f.Name {
	case "InsertCharPre":
		var ev CharEvent
		if s.decode(f, &ev) {
			s.ctl.OnInsertCharPre(ev.Char)
		}
	case "InsertEnter":
		actx := s.ctl.Admit(ctx)
		s.async(f.Name, func() { s.ctl.OnInsertEnter(actx) })
	case "InsertLeave":
		var ev BufnrEvent
		if s.decode(f, &ev) {
			s.ctl.OnInsertLeave(ev.Bufnr)
		}
	case "TextChangedI":
		var ev BufnrEvent
		if s.decode(f, &ev) {
			actx := s.ctl.Admit(ctx)
			s.async(f.Name, func() { s.ctl.OnTextChangedInsert(actx, ev.Bufnr) })
		}
	case "TextChangedP":
		actx := s.ctl.Admit(ctx)
		s.async(f.Name, func() { s.ctl.OnTextChangedPopup(actx) })
	case "CompleteDone":
		var ev CompleteDoneEvent
		if s.decode(f, &ev) {
			actx := s.ctl.Admit(ctx)
			s.async(f.Name, func() { s.ctl.OnCompleteDone(actx, ev.Item.UserData) })
		}
	case "MenuPopupChanged":
		var ev PopupChangedEvent
		if s.decode(f, &ev) {
			item := ev.Item
			if item != nil && item.Word == "" {
				item = nil
			}
			actx := s.ctl.Admit(ctx)
			s.async(f.Name, func() { s.ctl.OnPopupChanged(actx, item, ev.Bounding) })
		}
	case "BufEnter":
		var ev BufferEvent
		if s.decode(f, &ev) {
			ev.Start, ev.End = 0, -1
			s.docs.Attach(ev)
		}
	case "BufChange":
		var ev BufferEvent
		if s.decode(f, &ev) {
			if err := s.docs.Apply(ev); err != nil {
				s.log.Warn("buffer change", "err", err)
			}
		}
	case "BufUnload":
		var ev BufnrEvent
		if s.decode(f, &ev) {
			s.ctl.OnBufUnload(ev.Bufnr)
			s.docs.Remove(ev.Bufnr)
		}
	case "RegisterSource":
		var ev RegisterSourceEvent
		if s.decode(f, &ev) {
			s.registerSource(ev)
		}
	case "UnregisterSource":
		var ev RegisterSourceEvent
		if s.decode(f, &ev) {
			s.registry.Unregister(ev.Name)
		}
	default:
		s.log.Warn("unknown event", "name", f.Name)
	}
}

func (s *Server) registerSource(ev RegisterSourceEvent) {
	if ev.Name == "" {
		s.log.Warn("source registration without a name")
		return
	}
	s.registry.Register(sources.NewLanguage(s.bridge.LanguageClient(ev.Name), sources.LanguageOptions{
		Name:              ev.Name,
		Shortcut:          ev.Shortcut,
		FileTypes:         ev.FileTypes,
		TriggerCharacters: ev.TriggerCharacters,
		Priority:          ev.Priority,
	}))
	s.log.Debug("registered source", "name", ev.Name, "filetypes", ev.FileTypes, "triggers", ev.TriggerCharacters)
}

func (s *Server) handleRequest(ctx context.Context, f *Frame) {
	switch f.Name {
	case "health":
		s.bridge.Respond(f, s.health(), nil)
	case "status":
		s.bridge.Respond(f, s.ctl.Status(), nil)
	case "complete":
		var req CompleteRequest
		if !s.decode(f, &req) {
			s.bridge.Respond(f, nil, errors.New("invalid complete request"))
			return
		}
		if req.Source != "" {
			if _, err := s.registry.Get(req.Source); err != nil {
				s.bridge.Respond(f, nil, err)
				return
			}
		}
		actx := s.ctl.Admit(ctx)
		s.async(f.Name, func() {
			s.ctl.Trigger(actx, req.Source)
			s.bridge.Respond(f, s.ctl.Status(), nil)
		})
	default:
		s.bridge.Respond(f, nil, errors.Newf("unknown request %q", f.Name))
	}
}

func (s *Server) health() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Sources:   s.registry.Names(),
		Documents: s.docs.Len(),
		UptimeMs:  time.Since(s.started).Milliseconds(),
	}
}

func (s *Server) decode(f *Frame, v any) bool {
	if err := f.Decode(v); err != nil {
		s.log.Warn("bad payload", "name", f.Name, "err", err)
		return false
	}
	return true
}

var (
	_ controller.Host        = (*Bridge)(nil)
	_ controller.Workspace   = (*Workspace)(nil)
	_ sources.Documents      = (*Workspace)(nil)
	_ complete.Document      = (*Document)(nil)
	_ sources.LanguageClient = (*LanguageClient)(nil)
	_ preview.Host           = (*Bridge)(nil)
)
