package main

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/Lvzhenqian/console/errors"
	"github.com/Lvzhenqian/console/groupsync"
	"github.com/Lvzhenqian/console/ssh"
	"github.com/spf13/cobra"
)

type hostResult struct {
	host    string
	outputs []string
	err     error
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run command...",
		Short: "Run commands on every host in parallel and print the responses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parallel, _ := cmd.Flags().GetInt("parallel")
			exec, _ := cmd.Flags().GetBool("exec")
			if parallel < 1 {
				return errors.Newf("--parallel must be at least 1, got %d", parallel)
			}
			return a.run(cmd.Context(), args, parallel, exec)
		},
	}
	cmd.Flags().Int("parallel", 10, "hosts driven at once")
	cmd.Flags().Bool("exec", false, "run each command on its own ssh channel without a shell")
	return cmd
}

func (a *app) run(ctx context.Context, commands []string, parallel int, exec bool) error {
	results := make([]hostResult, 0)
	group, err := groupsync.NewGroup(&results, groupsync.WithWorker(parallel), groupsync.WithReceivers(1))
	if err != nil {
		return err
	}
	for _, host := range a.hosts() {
		host := host
		err := group.Go(func() hostResult {
			if exec {
				return a.execOn(ctx, host, commands)
			}
			return a.runOn(ctx, host, commands)
		})
		if err != nil {
			return err
		}
	}
	group.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].host < results[j].host })
	failed := 0
	for _, r := range results {
		fmt.Fprintf(a.stdout, "== %s ==\n", r.host)
		for _, out := range r.outputs {
			fmt.Fprintln(a.stdout, out)
		}
		if r.err != nil {
			failed++
			fmt.Fprintf(a.stdout, "error: %v\n", r.err)
			a.log.WithErrorf(r.err, "run on %s", r.host)
		}
	}
	if failed > 0 {
		return errors.Newf("%d of %d hosts failed", failed, len(results))
	}
	return nil
}

func (a *app) runOn(ctx context.Context, host string, commands []string) hostResult {
	r := hostResult{host: host}
	conn, err := a.connect(ctx, host)
	if err != nil {
		r.err = err
		return r
	}
	for _, command := range commands {
		out, err := conn.SendCommand(ctx, command, 0)
		if err != nil {
			r.err = err
			break
		}
		r.outputs = append(r.outputs, out)
	}
	if err := conn.Disconnect(ctx); err != nil && r.err == nil {
		r.err = err
	}
	return r
}

func (a *app) execOn(ctx context.Context, host string, commands []string) hostResult {
	r := hostResult{host: host}
	conf, err := a.authConfig(host)
	if err != nil {
		r.err = err
		return r
	}
	cli, err := ssh.Dial(ctx, conf, a.sshOptions()...)
	if err != nil {
		r.err = err
		return r
	}
	defer cli.Close()
	for _, command := range commands {
		out := new(bytes.Buffer)
		if err := cli.Run(command, out, out); err != nil {
			r.outputs = append(r.outputs, out.String())
			r.err = errors.Wrapf(err, "%s", command)
			break
		}
		r.outputs = append(r.outputs, out.String())
	}
	return r
}
