// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wq-cluster/wqd/internal/job"
	"github.com/wq-cluster/wqd/internal/proto"
)

var (
	serverAddr string
	dialTimeout = 5 * time.Second

	rootCmd = &cobra.Command{
		Use:   "wqctl",
		Short: "command-line client for wqd",
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServerAddr(), "wqd server address (env: WQ_SERVER)")

	rootCmd.AddCommand(pingCmd, subCmd, lsCmd, statCmd, rmCmd, notifyCmd, limitCmd, nodeCmd)
}

func defaultServerAddr() string {
	if v := os.Getenv("WQ_SERVER"); v != "" {
		return v
	}
	return "127.0.0.1:51093"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// call dials serverAddr, sends request, and returns the decoded response.
func call(request map[string]any) (proto.Response, error) {
	conn, err := net.DialTimeout("tcp", serverAddr, dialTimeout)
	if err != nil {
		return proto.Response{}, fmt.Errorf("dialing %s: %w", serverAddr, err)
	}
	defer conn.Close()

	if err := proto.WriteMessage(conn, request); err != nil {
		return proto.Response{}, fmt.Errorf("sending request: %w", err)
	}

	var resp proto.Response
	if err := proto.ReadMessage(conn, &resp); err != nil {
		return proto.Response{}, fmt.Errorf("reading response: %w", err)
	}
	return resp, nil
}

// printResponse renders a response as indented JSON, or the error string
// to stderr with a non-zero exit.
func printResponse(resp proto.Response) error {
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	out, err := json.MarshalIndent(resp.Response, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "check that the server is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(map[string]any{"command": "ping"})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "show cluster node status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(map[string]any{"command": "stat"})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(map[string]any{"command": "ls"})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var (
	subMode     string
	subN        int
	subThreads  int
	subHost     string
	subGroup    []string
	subPriority string
)

var subCmd = &cobra.Command{
	Use:   "sub -- <commandline>",
	Short: "submit a job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commandline := args[0]
		for _, a := range args[1:] {
			commandline += " " + a
		}

		req := job.Requirement{
			Mode:     job.Mode(subMode),
			N:        subN,
			Threads:  subThreads,
			Host:     subHost,
			Group:    subGroup,
			Priority: job.Priority(subPriority),
		}
		req.Defaults()

		hostname, _ := os.Hostname()
		resp, err := call(map[string]any{
			"command":     "sub",
			"pid":         os.Getpid(),
			"fromhost":    hostname,
			"user":        currentUser(),
			"commandline": commandline,
			"require":     req,
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	subCmd.Flags().StringVar(&subMode, "mode", string(job.ModeByCore), "by_core, by_core1, by_node, by_host, or by_group")
	subCmd.Flags().IntVar(&subN, "n", 1, "number of cores requested")
	subCmd.Flags().IntVar(&subThreads, "threads", 1, "threads per core block (by_core only)")
	subCmd.Flags().StringVar(&subHost, "host", "", "target host (by_host)")
	subCmd.Flags().StringSliceVar(&subGroup, "group", nil, "required group tags")
	subCmd.Flags().StringVar(&subPriority, "priority", string(job.PriorityMed), "block, high, med, or low")
}

var rmCmd = &cobra.Command{
	Use:   "rm <pid>",
	Short: "request removal of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		resp, err := call(map[string]any{"command": "rm", "user": currentUser(), "pid": pid})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify <pid> <done|refresh>",
	Short: "notify the server a job finished, or force a refresh",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		resp, err := call(map[string]any{"command": "notify", "pid": pid, "notification": args[1]})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

var (
	limitNjobs  int
	limitNcores int
	limitClear  bool
)

var limitCmd = &cobra.Command{
	Use:   "limit <user>",
	Short: "set or clear a user's job/core limits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "set"
		if limitClear {
			action = "clear"
		}
		resp, err := call(map[string]any{
			"command": "limit",
			"user":    args[0],
			"action":  action,
			"njobs":   limitNjobs,
			"ncores":  limitNcores,
		})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	limitCmd.Flags().IntVar(&limitNjobs, "njobs", 0, "maximum concurrent jobs, 0 for unlimited")
	limitCmd.Flags().IntVar(&limitNcores, "ncores", 0, "maximum held cores, 0 for unlimited")
	limitCmd.Flags().BoolVar(&limitClear, "clear", false, "clear this user's limits")
}

var nodeOnline bool

var nodeCmd = &cobra.Command{
	Use:   "node <host>",
	Short: "take a node online or offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(map[string]any{"command": "node", "host": args[0], "online": nodeOnline})
		if err != nil {
			return err
		}
		return printResponse(resp)
	},
}

func init() {
	nodeCmd.Flags().BoolVar(&nodeOnline, "online", true, "true to bring online, false to take offline")
}

func currentUser() string {
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}
