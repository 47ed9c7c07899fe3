package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"syscall"
)

// socketOption is one entry in the supported-option table: it knows how
// to parse its configured value and how to apply it to a raw listener fd.
type socketOption struct {
	parse func(string) (int, error)
	apply func(fd uintptr, value int) error
}

// ResolvedSocketOption is a socket option bound to its parsed value,
// ready to apply to a listener.
type ResolvedSocketOption struct {
	Name  string
	value int
	apply func(fd uintptr, value int) error
}

// Apply sets the option on the file descriptor.
func (o ResolvedSocketOption) Apply(fd uintptr) error {
	if err := o.apply(fd, o.value); err != nil {
		return fmt.Errorf("set socket option %s: %w", o.Name, err)
	}
	return nil
}

func boolValue(s string) (int, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return 0, fmt.Errorf("expected boolean, got %q", s)
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

func intValue(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("expected non-negative integer, got %q", s)
	}
	return n, nil
}

func sockoptInt(level, opt int) func(fd uintptr, value int) error {
	return func(fd uintptr, value int) error {
		return syscall.SetsockoptInt(int(fd), level, opt, value)
	}
}

// socketOptions is the full set of supported listener options. Anything
// not in this table is unknown and handled per SocketConfig.UnknownPolicy.
var socketOptions = map[string]socketOption{
	"reuse-address": {parse: boolValue, apply: sockoptInt(syscall.SOL_SOCKET, syscall.SO_REUSEADDR)},
	"keep-alive":    {parse: boolValue, apply: sockoptInt(syscall.SOL_SOCKET, syscall.SO_KEEPALIVE)},
	"tcp-no-delay":  {parse: boolValue, apply: sockoptInt(syscall.IPPROTO_TCP, syscall.TCP_NODELAY)},
	"recv-buffer":   {parse: intValue, apply: sockoptInt(syscall.SOL_SOCKET, syscall.SO_RCVBUF)},
	"send-buffer":   {parse: intValue, apply: sockoptInt(syscall.SOL_SOCKET, syscall.SO_SNDBUF)},
}

// Resolve maps the configured option names through the supported-option
// table, parsing each value. Unknown names are an error under the
// "reject" policy and silently skipped under "ignore"; the caller logs
// skips via Control.
func (s SocketConfig) Resolve() ([]ResolvedSocketOption, error) {
	resolved := make([]ResolvedSocketOption, 0, len(s.Options))
	for name, raw := range s.Options {
		opt, ok := socketOptions[name]
		if !ok {
			if s.UnknownPolicy == "reject" {
				return nil, fmt.Errorf("unknown socket option %q", name)
			}
			continue
		}
		value, err := opt.parse(raw)
		if err != nil {
			return nil, fmt.Errorf("socket option %s: %w", name, err)
		}
		resolved = append(resolved, ResolvedSocketOption{Name: name, value: value, apply: opt.apply})
	}
	return resolved, nil
}

// Control builds a net.ListenConfig control function applying the
// resolved options to the listener socket. Options skipped by the
// "ignore" policy are logged once here.
func (s SocketConfig) Control(logger *slog.Logger) (func(network, address string, conn syscall.RawConn) error, error) {
	resolved, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	if logger != nil && s.UnknownPolicy == "ignore" {
		for name := range s.Options {
			if _, ok := socketOptions[name]; !ok {
				logger.Warn("ignoring unknown socket option", slog.String("option", name))
			}
		}
	}
	if len(resolved) == 0 {
		return nil, nil
	}
	return func(network, address string, conn syscall.RawConn) error {
		var applyErr error
		err := conn.Control(func(fd uintptr) {
			for _, opt := range resolved {
				if err := opt.Apply(fd); err != nil {
					applyErr = err
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return applyErr
	}, nil
}
