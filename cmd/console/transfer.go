package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Lvzhenqian/console/ssh"
	"github.com/spf13/cobra"
)

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put src dst",
		Short: "Copy a local file or directory to every host over sftp",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, host := range a.hosts() {
				err := a.withClient(cmd.Context(), host, func(cli *ssh.Client) error {
					return cli.Push(args[0], args[1])
				})
				if err != nil {
					return err
				}
				a.log.Infof("put %s -> %s:%s", args[0], host, args[1])
			}
			return nil
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get src dst",
		Short: "Copy a remote file or directory from every host over sftp",
		Long:  "With several hosts each copy lands in dst/<host>.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := a.hosts()
			for _, host := range hosts {
				dst := args[1]
				if len(hosts) > 1 {
					dst = filepath.Join(dst, host)
					if err := os.MkdirAll(dst, 0o755); err != nil {
						return err
					}
				}
				err := a.withClient(cmd.Context(), host, func(cli *ssh.Client) error {
					return cli.Get(args[0], dst)
				})
				if err != nil {
					return err
				}
				a.log.Infof("get %s:%s -> %s", host, args[0], dst)
			}
			return nil
		},
	}
}

func (a *app) tunnelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tunnel local remote",
		Short: "Forward a local tcp address to a remote one through the first host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := a.hosts()[0]
			return a.withClient(cmd.Context(), host, func(cli *ssh.Client) error {
				a.log.Infof("tunnel %s -> %s via %s", args[0], args[1], host)
				return cli.Forward(cmd.Context(),
					ssh.NetworkConfig{Network: "tcp", Address: args[0]},
					ssh.NetworkConfig{Network: "tcp", Address: args[1]})
			})
		},
	}
}

func (a *app) withClient(ctx context.Context, host string, fn func(*ssh.Client) error) error {
	conf, err := a.authConfig(host)
	if err != nil {
		return err
	}
	cli, err := ssh.Dial(ctx, conf, a.sshOptions()...)
	if err != nil {
		return err
	}
	defer cli.Close()
	return fn(cli)
}
