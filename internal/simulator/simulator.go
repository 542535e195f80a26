// Package simulator is an in-process stand-in for the Xspress control
// server. It keeps a nested configuration, merges configure commands into it
// and answers request_configuration with the whole tree.
package simulator

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/xspressctl/internal/protocol"
)

var (
	ErrRejected       = errors.New("simulator: parameter rejected")
	ErrUnknownCommand = errors.New("simulator: unknown command")
	ErrUnknownRequest = errors.New("simulator: unknown request")
)

const groupCommand = "command"

// Simulator is safe for concurrent use.
type Simulator struct {
	id     string
	logger zerolog.Logger

	mu       sync.Mutex
	params   map[string]any
	rejected map[string]struct{}
	commands []string
}

func New(logger zerolog.Logger) *Simulator {
	id := uuid.NewString()
	return &Simulator{
		id:       id,
		logger:   logger.With().Str("component", "simulator").Str("instance", id).Logger(),
		params:   defaultParams(),
		rejected: map[string]struct{}{},
	}
}

func defaultParams() map[string]any {
	return map[string]any{
		"config": map[string]any{
			"mode":          "mca",
			"num_cards":     1,
			"num_tf":        16384,
			"base_ip":       "192.168.0.1",
			"max_channels":  4,
			"mca_channels":  4,
			"max_spectra":   4096,
			"debug":         0,
			"run_flags":     0,
			"trigger_mode":  0,
			"exposure_time": 1.0,
			"num_images":    1,
		},
		"status": map[string]any{
			"acquisition_complete": true,
			"frames_acquired":      0,
			"connected":            false,
			"reconnect_required":   false,
			"state":                "idle",
			"error":                "",
		},
		"version": map[string]any{
			"xspress-detector": map[string]any{
				"full":  "0.1.0",
				"major": 0,
				"minor": 1,
				"patch": 0,
				"short": "0.1.0",
			},
		},
		"daq": map[string]any{
			"enabled":   false,
			"endpoints": []any{},
		},
	}
}

// ID identifies this simulator instance in logs.
func (s *Simulator) ID() string { return s.id }

// Reject makes every later write to path fail with a NACK.
func (s *Simulator) Reject(path string) {
	s.mu.Lock()
	s.rejected[strings.Trim(path, "/")] = struct{}{}
	s.mu.Unlock()
}

// Commands returns the commands received so far, in order.
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// WriteParams merges params into the configuration. Nothing is written when
// any leaf is rejected.
func (s *Simulator) WriteParams(params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var leaves []string
	flatten("", params, &leaves)
	for _, path := range leaves {
		if _, ok := s.rejected[path]; ok {
			return fmt.Errorf("%w: %s", ErrRejected, path)
		}
	}
	merge(s.params, params)
	s.logger.Debug().Strs("paths", leaves).Msg("params written")
	return nil
}

// ReadParams returns copies of the requested paths, or of the whole tree when
// none are given. Unknown paths are omitted.
func (s *Simulator) ReadParams(paths ...string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(paths) == 0 {
		return deepCopy(s.params).(map[string]any)
	}
	out := make(map[string]any, len(paths))
	for _, p := range paths {
		if v, ok := lookup(s.params, p); ok {
			out[strings.Trim(p, "/")] = deepCopy(v)
		}
	}
	return out
}

// DoCommand applies the side effects of a control command.
func (s *Simulator) DoCommand(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rejected[groupCommand+"/"+name]; ok {
		return fmt.Errorf("%w: %s/%s", ErrRejected, groupCommand, name)
	}
	status := s.params["status"].(map[string]any)
	switch name {
	case "start":
		status["acquisition_complete"] = false
		status["state"] = "acquiring"
	case "stop":
		status["acquisition_complete"] = true
		status["state"] = "idle"
	case "trigger":
		switch n := status["frames_acquired"].(type) {
		case int:
			status["frames_acquired"] = n + 1
		case int64:
			status["frames_acquired"] = n + 1
		}
	case "connect":
		status["connected"] = true
	case "disconnect":
		status["connected"] = false
	case "save", "restore":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	s.commands = append(s.commands, name)
	s.logger.Info().Str("command", name).Msg("command received")
	return nil
}

// HandleFrame answers one encoded request. Frames that cannot be decoded get
// no reply since there is no id to correlate with.
func (s *Simulator) HandleFrame(raw []byte) []byte {
	req, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed request")
		return nil
	}
	reply := req.Reply(protocol.TypeAck)
	if err := s.handle(req, &reply); err != nil {
		s.logger.Warn().Err(err).Uint32("id", req.ID).Str("msg_val", req.Value).Msg("request rejected")
		reply = req.Reply(protocol.TypeNack)
		reply.SetParam("error", err.Error())
	}
	out, err := protocol.Encode(reply)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode reply")
		return nil
	}
	return out
}

func (s *Simulator) handle(req protocol.Message, reply *protocol.Message) error {
	switch req.Value {
	case protocol.ValueRequestConfiguration:
		reply.SetParams(s.ReadParams())
		return nil
	case protocol.ValueConfigure:
		params := maps.Clone(req.Params)
		if cmds, ok := params[groupCommand].(map[string]any); ok {
			delete(params, groupCommand)
			names := make([]string, 0, len(cmds))
			for name := range cmds {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := s.DoCommand(name); err != nil {
					return err
				}
			}
		}
		if len(params) == 0 {
			return nil
		}
		return s.WriteParams(params)
	}
	return fmt.Errorf("%w: %q", ErrUnknownRequest, req.Value)
}

func flatten(prefix string, value any, out *[]string) {
	m, ok := value.(map[string]any)
	if !ok {
		*out = append(*out, prefix)
		return
	}
	for k, v := range m {
		p := k
		if prefix != "" {
			p = prefix + "/" + k
		}
		flatten(p, v, out)
	}
}

func merge(dst, src map[string]any) {
	for k, v := range src {
		sub, isMap := v.(map[string]any)
		existing, hasMap := dst[k].(map[string]any)
		if isMap && hasMap {
			merge(existing, sub)
			continue
		}
		dst[k] = deepCopy(v)
	}
}

func lookup(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, tok := range strings.Split(strings.Trim(path, "/"), "/") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[tok]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
