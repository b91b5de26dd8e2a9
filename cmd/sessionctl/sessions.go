package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	session "github.com/swfrench/aerospike-session"
	"github.com/swfrench/aerospike-session/store"
)

// record is a session whose payload is left as raw JSON.
type record = session.Session[json.RawMessage]

func withStore(cmd *cobra.Command, fn func(st store.SessionStore[*record]) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, closeFn, err := openStore[json.RawMessage](cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(st)
}

func dataFlag(cmd *cobra.Command) (*json.RawMessage, error) {
	data, _ := cmd.Flags().GetString("data")
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("--data is not valid JSON: %q", data)
	}
	raw := json.RawMessage(data)
	return &raw, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and print its ID",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := dataFlag(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd, func(st store.SessionStore[*record]) error {
			sid, err := st.Create(cmd.Context(), &record{Data: data, Created: time.Now()})
			if err != nil {
				return err
			}
			fmt.Println(sid)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Print a session (refreshing its TTL)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.SessionStore[*record]) error {
			s, err := st.Read(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error loading session %q: %w", args[0], err)
			}
			return printJSON(s)
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <session-id>",
	Short: "Replace the data of an existing session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := dataFlag(cmd)
		if err != nil {
			return err
		}
		return withStore(cmd, func(st store.SessionStore[*record]) error {
			s, err := st.Read(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error loading session %q: %w", args[0], err)
			}
			s.Data = data
			return st.Update(cmd.Context(), s)
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.SessionStore[*record]) error {
			failed := 0
			for _, sid := range args {
				if err := st.Delete(cmd.Context(), &record{ID: sid}); err != nil {
					fmt.Fprintf(os.Stderr, "Error removing %q: %v\n", sid, err)
					failed++
					continue
				}
				fmt.Printf("Removed session %q\n", sid)
			}
			if failed > 0 {
				return fmt.Errorf("failed to remove %d of %d sessions", failed, len(args))
			}
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active sessions (best effort)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.SessionStore[*record]) error {
			sessions := st.Active(cmd.Context())
			if len(sessions) == 0 {
				fmt.Println("No active sessions found.")
				return nil
			}
			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].Created.Before(sessions[j].Created)
			})
			for _, s := range sessions {
				fmt.Printf("%s\t%s\n", s.ID, s.Created.Format(time.RFC3339))
			}
			return nil
		})
	},
}

func init() {
	createCmd.Flags().String("data", "null", "Session data as JSON")
	updateCmd.Flags().String("data", "null", "Session data as JSON")
	rootCmd.AddCommand(createCmd, getCmd, updateCmd, rmCmd, lsCmd)
}
