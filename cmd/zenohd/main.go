// zenohd is the per-machine runtime daemon of spec.md §1: it loads the
// packages flow/portio/bridge/runner/instance/runtime/control/orch into one
// process, binds a session.Session (local in-process bus or the networked
// session/netbus transport), and serves the control plane until signalled.
// Grounded on the teacher's cmd/authn main(): flag-driven bring-up, a
// version/help short-circuit before flag.Parse, and an installSignalHandler
// goroutine for graceful shutdown.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/valyala/fasthttp"

	"github.com/zenoh-flow/zenohd/cmn/cos"
	"github.com/zenoh-flow/zenohd/cmn/nlog"
	"github.com/zenoh-flow/zenohd/control"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/runtime"
	"github.com/zenoh-flow/zenohd/runtime/pluginfs"
	"github.com/zenoh-flow/zenohd/session"
	"github.com/zenoh-flow/zenohd/session/local"
	"github.com/zenoh-flow/zenohd/session/netbus"
	"github.com/zenoh-flow/zenohd/stats"
)

const version = "0.1.0"

var (
	build string

	id         string
	listenOn   string
	peers      string
	pluginDir  string
	extsFlag   string
	metricsOn  string
)

func init() {
	flag.StringVar(&id, "id", "", "this daemon's RuntimeID (generated if empty)")
	flag.StringVar(&listenOn, "listen", "", "host:port to accept peer control/pubsub connections on; empty selects the in-process bus (single-daemon mode)")
	flag.StringVar(&peers, "peers", "", "comma-separated peer base URLs, e.g. http://host:1234,http://host:5678")
	flag.StringVar(&pluginDir, "plugins", "", "directory pluginfs walks to resolve externally loaded nodes")
	flag.StringVar(&extsFlag, "extensions", ".so", "comma-separated file extensions the plugin loader accepts")
	flag.StringVar(&metricsOn, "metrics-listen", "", "host:port to serve /metrics on; empty disables metrics export")
}

func printVer() {
	fmt.Printf("zenohd version %s (build %s)\n", version, build)
}

func installSignalHandler(shutdown func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Infof("zenohd: shutting down")
		shutdown()
		nlog.Flush()
		os.Exit(0)
	}()
}

func buildSession() session.Session {
	if listenOn == "" {
		return local.NewSession(local.NewBus(), id)
	}
	var peerList []string
	if peers != "" {
		peerList = strings.Split(peers, ",")
	}
	sess, err := netbus.Listen(netbus.Config{Name: id, ListenOn: listenOn, Peers: peerList})
	if err != nil {
		cos.ExitLogf("zenohd: listen %s: %v", listenOn, err)
	}
	return sess
}

func buildExtensions() (runtime.Extensions, []string) {
	ext := make(runtime.Extensions)
	var names []string
	if pluginDir == "" {
		return ext, names
	}
	loader := pluginfs.New(pluginDir, pluginfs.DefaultFactory)
	for _, suffix := range strings.Split(extsFlag, ",") {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		ext[suffix] = loader
		names = append(names, suffix)
	}
	return ext, names
}

// serveMetrics exposes reg in Prometheus text format over fasthttp (the
// teacher's own HTTP stack, matching session/netbus's transport choice)
// rather than pulling in net/http's promhttp adapter for one endpoint.
func serveMetrics(reg *prometheus.Registry) {
	if metricsOn == "" {
		return
	}
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/metrics" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		mfs, err := reg.Gather()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			ctx.SetBodyString(err.Error())
			return
		}
		ctx.SetContentType(string(expfmt.FmtText))
		enc := expfmt.NewEncoder(ctx, expfmt.FmtText)
		for _, mf := range mfs {
			if err := enc.Encode(mf); err != nil {
				nlog.Warningf("zenohd: encode metric family: %v", err)
			}
		}
	}}
	go func() {
		if err := srv.ListenAndServe(metricsOn); err != nil {
			nlog.Errorf("zenohd: metrics server: %v", err)
		}
	}()
}

func main() {
	if len(os.Args) == 2 && os.Args[1] == "version" {
		printVer()
		os.Exit(0)
	}
	if len(os.Args) == 2 && strings.Contains(os.Args[1], "help") {
		printVer()
		flag.PrintDefaults()
		os.Exit(0)
	}
	flag.Parse()

	if id == "" {
		id = cos.GenUUID()
	}
	if !flow.RuntimeID(id).Valid() {
		cos.ExitLogf("zenohd: invalid -id %q", id)
	}

	sess := buildSession()
	reg := prometheus.NewRegistry()
	metrics := stats.New(reg)

	ext, extNames := buildExtensions()
	rt := runtime.New(flow.RuntimeID(id), sess, ext)
	rt.Metrics = metrics

	srv, err := control.New(rt, sess, "zenohd", extNames, metrics)
	if err != nil {
		cos.ExitLogf("zenohd: control plane bring-up: %v", err)
	}

	serveMetrics(reg)

	nlog.Infof("zenohd %s: runtime %s listening on %q", version, id, listenOn)
	installSignalHandler(func() {
		srv.Close()
		sess.Close()
	})
	select {}
}
