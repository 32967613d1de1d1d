// DefaultFactory resolves a discovered plugin path through Go's stdlib
// plugin package: it opens the shared object and looks up a `New` symbol of
// type `func(json.RawMessage) (runner.Node, error)`, the minimal contract a
// dynamically loaded node implementation exports. Concrete node authoring
// is out of scope per spec.md §1 — this exists so a runtime.ExternalLoader
// is actually wireable in cmd/zenohd rather than left as a dangling
// interface.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package pluginfs

import (
	"context"
	"encoding/json"
	"plugin"

	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/runner"
	"github.com/zenoh-flow/zenohd/xerr"
)

// DefaultFactory is a Factory backed by plugin.Open; suitable for Linux
// builds where node implementations are shipped as .so files.
func DefaultFactory(_ context.Context, path string, n *flow.NodeDesc) (runner.Node, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, xerr.Wrap(xerr.NodeLoad, err, "pluginfs: open %s", path)
	}
	sym, err := p.Lookup("New")
	if err != nil {
		return nil, xerr.Wrap(xerr.NodeLoad, err, "pluginfs: %s: missing New symbol", path)
	}
	ctor, ok := sym.(func(json.RawMessage) (runner.Node, error))
	if !ok {
		return nil, xerr.New(xerr.NodeLoad, "pluginfs: %s: New has unexpected signature", path)
	}
	node, err := ctor(n.Config)
	if err != nil {
		return nil, xerr.Wrap(xerr.NodeLoad, err, "pluginfs: %s: New(%s)", path, n.ID)
	}
	return node, nil
}
