// zfctl is the CLI controller of spec.md §6: a thin wrapper over package
// api that sends the JSON control-plane requests (runtime Info/Status/List;
// instance Create/Start/Abort/Delete/Record) to a target daemon's
// selectors. The instance-scoped List and Status{id} requests have no verb. Grounded on the shape of the teacher's own CLI command
// dispatch (one subcommand per verb, flag.FlagSet per subcommand) without
// pulling in its urfave/cli framework, since this controller's surface is a
// handful of verbs rather than the teacher's full storage-management CLI.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/zenoh-flow/zenohd/api"
	"github.com/zenoh-flow/zenohd/cmn/cos"
	"github.com/zenoh-flow/zenohd/flow"
	"github.com/zenoh-flow/zenohd/session/netbus"
)

func usage() {
	fmt.Fprintln(os.Stderr, `zfctl -runtime <id> -connect <base-url> <verb> [args]

verbs:
  info                      runtime Info
  status                    runtime Status (every instance the daemon knows)
  list                      runtime List (alias of instances list)
  create <record.json>      load a flattened record
  start <instance-id>       resume every runner of an instance
  abort <instance-id>       cooperatively stop every runner
  delete <instance-id>      abort (if needed) then tear down an instance
  record <instance-id>      print the record an instance was created from`)
}

func main() {
	var (
		runtimeID string
		connect   string
	)
	fs := flag.NewFlagSet("zfctl", flag.ExitOnError)
	fs.StringVar(&runtimeID, "runtime", "", "target daemon's RuntimeID")
	fs.StringVar(&connect, "connect", "", "base URL of a netbus daemon to query, e.g. http://host:1234 (required — zfctl has no transport of its own to bind)")
	fs.Usage = usage
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := fs.Args()
	if len(args) == 0 || runtimeID == "" || connect == "" {
		usage()
		os.Exit(2)
	}

	sess, err := netbus.Listen(netbus.Config{Name: "zfctl", ListenOn: "127.0.0.1:0", Peers: []string{connect}})
	if err != nil {
		cos.ExitLogf("zfctl: %v", err)
	}
	defer sess.Close()

	p := api.Params{Sess: sess, Runtime: flow.RuntimeID(runtimeID)}
	ctx := context.Background()

	verb, rest := args[0], args[1:]
	if err := dispatch(ctx, p, verb, rest); err != nil {
		cos.ExitLogf("zfctl: %s: %v", verb, err)
	}
}

func dispatch(ctx context.Context, p api.Params, verb string, args []string) error {
	switch strings.ToLower(verb) {
	case "info":
		info, err := api.GetRuntimeInfo(ctx, p)
		if err != nil {
			return err
		}
		fmt.Printf("runtime_id\t%s\nname\t%s\nversion\t%s\nextensions\t%s\n",
			info.RuntimeID, info.Name, info.Version, strings.Join(info.Extensions, ","))
		return nil
	case "status":
		st, err := api.GetRuntimeStatus(ctx, p)
		if err != nil {
			return err
		}
		for id, phase := range st.Instances {
			fmt.Printf("%s\t%s\n", id, phase)
		}
		return nil
	case "list":
		ids, err := api.ListRuntimeInstances(ctx, p)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	case "create":
		if len(args) != 1 {
			return fmt.Errorf("usage: create <record.json>")
		}
		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var record flow.Record
		if err := cos.UnmarshalJSON(b, &record); err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		return api.CreateInstance(ctx, p, &record)
	case "start":
		return requireID(args, func(id flow.InstanceID) error { return api.StartInstance(ctx, p, id) })
	case "abort":
		return requireID(args, func(id flow.InstanceID) error { return api.AbortInstance(ctx, p, id) })
	case "delete":
		return requireID(args, func(id flow.InstanceID) error { return api.DeleteInstance(ctx, p, id) })
	case "record":
		return requireID(args, func(id flow.InstanceID) error {
			rec, err := api.GetInstanceRecord(ctx, p, id)
			if err != nil {
				return err
			}
			fmt.Println(string(cos.MustMarshal(rec)))
			return nil
		})
	default:
		usage()
		os.Exit(2)
		return nil
	}
}

func requireID(args []string, f func(flow.InstanceID) error) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: <verb> <instance-id>")
	}
	return f(flow.InstanceID(args[0]))
}
