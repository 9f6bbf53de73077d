// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/duoauth/internal/engine"
	"github.com/holomush/duoauth/internal/gate"
	"github.com/holomush/duoauth/internal/notify"
	"github.com/holomush/duoauth/internal/pipeline"
	"github.com/holomush/duoauth/internal/sweep"
)

// identityNamespace derives stable identity ids from console names.
var identityNamespace = uuid.MustParse("5f2d6c1e-8a7b-4c3d-9e0f-1a2b3c4d5e6f")

const consoleHelp = `commands:
  prelogin <name> <address>       admission check before a connection is accepted
  join <name> <address> [enforce] connection established
  auth <name> <password> <pin>    authenticate
  reset <name> <password> <pin>   change password and PIN
  deauth <name>                   drop own authentication
  quit <name>                     connection closed
  status <name>                   may the identity act
  admin deauth|allow|reset <name> operator actions
  sweep                           run one expiration sweep
  help`

// console drives the engine from text lines standing in for the game
// server's connection and command events.
type console struct {
	loop    *pipeline.Loop
	engine  *engine.Engine
	gate    *gate.Gate
	sweeper *sweep.Sweeper
	catalog *notify.Catalog
	out     io.Writer

	mu    sync.Mutex
	names map[uuid.UUID]string
	addrs map[uuid.UUID]string
}

func newConsole(s *server) *console {
	return &console{
		loop:    s.loop,
		engine:  s.engine,
		gate:    s.gate,
		sweeper: s.sweeper,
		catalog: s.catalog,
		out:     s.out,
		names:   make(map[uuid.UUID]string),
		addrs:   make(map[uuid.UUID]string),
	}
}

// Run executes lines from in until end of input or ctx ends.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return oops.Code("CONSOLE_READ_FAILED").Wrap(err)
					}
				default:
				}
				return nil
			}
			if err := c.Exec(ctx, line); err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Exec runs one command line.
func (c *console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help":
		c.printf("%s\n", consoleHelp)
		return nil
	case "prelogin":
		if len(args) != 2 {
			return usage("prelogin <name> <address>")
		}
		return c.prelogin(ctx, c.identity(args[0]), args[0], args[1])
	case "join":
		if len(args) < 2 || len(args) > 3 {
			return usage("join <name> <address> [enforce]")
		}
		id := c.identity(args[0])
		enforced := len(args) == 3 && args[2] == "enforce"
		c.mu.Lock()
		c.addrs[id] = args[1]
		c.mu.Unlock()
		return c.call(ctx, func() <-chan struct{} { return c.engine.Join(id, args[1], enforced) })
	case "auth":
		if len(args) != 3 {
			return usage("auth <name> <password> <pin>")
		}
		return c.auth(ctx, c.identity(args[0]), args[0], args[1], args[2])
	case "reset":
		if len(args) != 3 {
			return usage("reset <name> <password> <pin>")
		}
		id := c.identity(args[0])
		return c.manage(ctx, "reset", args[0], func(reply func(error)) <-chan struct{} {
			return c.engine.Reset(id, args[1], args[2], reply)
		})
	case "deauth":
		if len(args) != 1 {
			return usage("deauth <name>")
		}
		id := c.identity(args[0])
		return c.manage(ctx, "deauth", args[0], func(reply func(error)) <-chan struct{} {
			return c.engine.Deauth(id, reply)
		})
	case "quit":
		if len(args) != 1 {
			return usage("quit <name>")
		}
		id := c.identity(args[0])
		return c.loop.Do(ctx, func() { c.engine.Quit(id) })
	case "status":
		if len(args) != 1 {
			return usage("status <name>")
		}
		id := c.identity(args[0])
		var st engine.Status
		if err := c.loop.Do(ctx, func() { st = c.engine.Status(id) }); err != nil {
			return err
		}
		c.printf("%s: %s\n", args[0], st)
		return nil
	case "admin":
		return c.admin(ctx, args)
	case "sweep":
		res, err := c.sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		c.printf("sweep: scanned=%d expired=%d skipped=%d failed=%d\n",
			res.Scanned, res.Expired, res.Skipped, res.Failed)
		return nil
	default:
		return oops.Code("CONSOLE_UNKNOWN_COMMAND").Errorf("unknown command %q (try help)", cmd)
	}
}

func (c *console) prelogin(ctx context.Context, id uuid.UUID, name, address string) error {
	d, err := c.gate.Check(ctx, id, address)
	switch {
	case d.Allowed && d.Deauthed:
		c.printf("%s: admitted; address changed, authentication cleared\n", name)
	case d.Allowed:
		c.printf("%s: admitted\n", name)
	default:
		c.printf("%s: denied (%s)\n", name, d.Reason)
	}
	return err
}

func (c *console) auth(ctx context.Context, id uuid.UUID, name, password, pin string) error {
	c.mu.Lock()
	addr := c.addrs[id]
	c.mu.Unlock()

	var got engine.Attempt
	err := c.call(ctx, func() <-chan struct{} {
		return c.engine.Authenticate(id, addr, password, pin, func(a engine.Attempt) { got = a })
	})
	if err != nil {
		return err
	}
	c.printf("-> %s %s\n", name, c.catalog.RenderOutcome(got.Outcome, map[string]string{
		"id":       name,
		"attempts": strconv.Itoa(got.Attempts),
		"wait":     got.Wait.Round(time.Second).String(),
	}))
	return nil
}

func (c *console) admin(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("admin deauth|allow|reset <name>")
	}
	action, name := strings.ToLower(args[0]), args[1]
	id := c.identity(name)

	var op func(uuid.UUID, func(error)) <-chan struct{}
	switch action {
	case "deauth":
		op = c.engine.AdminDeauth
	case "allow":
		op = c.engine.AdminAllow
	case "reset":
		op = c.engine.AdminReset
	default:
		return usage("admin deauth|allow|reset <name>")
	}
	return c.manage(ctx, "admin "+action, name, func(reply func(error)) <-chan struct{} {
		return op(id, reply)
	})
}

func (c *console) manage(ctx context.Context, action, name string, op func(func(error)) <-chan struct{}) error {
	var result error
	if err := c.call(ctx, func() <-chan struct{} {
		return op(func(err error) { result = err })
	}); err != nil {
		return err
	}
	if result != nil {
		c.printf("%s %s: failed: %v\n", action, name, result)
		return nil
	}
	c.printf("%s %s: ok\n", action, name)
	return nil
}

// call starts op on the foreground and waits for the chain it returns.
func (c *console) call(ctx context.Context, op func() <-chan struct{}) error {
	var done <-chan struct{}
	if err := c.loop.Do(ctx, func() { done = op() }); err != nil {
		return oops.Code("CONSOLE_CANCELLED").Wrap(err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("CONSOLE_CANCELLED").Wrap(ctx.Err())
	}
}

// identity maps a console name, or a literal UUID, to an identity id.
func (c *console) identity(name string) uuid.UUID {
	id, err := uuid.Parse(name)
	if err != nil {
		id = uuid.NewSHA1(identityNamespace, []byte(strings.ToLower(name)))
	}
	c.mu.Lock()
	c.names[id] = name
	c.mu.Unlock()
	return id
}

// event prints a notification addressed to a user or the operators.
func (c *console) event(ev notify.Event) {
	c.mu.Lock()
	name, ok := c.names[ev.Identity]
	c.mu.Unlock()
	if !ok {
		name = ev.Identity.String()
	}

	text := c.catalog.Render(ev)
	if ev.Audience == notify.AudienceOperator {
		c.printf("[operators] %s\n", strings.ReplaceAll(text, ev.Identity.String(), name))
		return
	}
	c.printf("-> %s %s\n", name, text)
}

func (c *console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func usage(form string) error {
	return oops.Code("CONSOLE_USAGE").Errorf("usage: %s", form)
}
