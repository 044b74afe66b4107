package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Mystery2099/dnd-pwa-sub000/internal/broadcast"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/localstate"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/logger"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/model"
	"github.com/Mystery2099/dnd-pwa-sub000/internal/replica"
)

var replicaDBFlag string

func newReplicaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Operate a local client replica",
	}
	cmd.PersistentFlags().StringVar(&replicaDBFlag, "db", "", "Local replica database file (default ~/.compendium/replica.db)")

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Follow cache version events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReplicaWatch(ctx, apiFlag, replicaDBFlag, os.Stdout)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the local version and mutation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicaStatus(cmd.Context(), apiFlag, replicaDBFlag, os.Stdout)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Deliver queued mutations now",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReplica(cmd.Context(), apiFlag, replicaDBFlag, zerolog.Nop())
			if err != nil {
				return err
			}
			defer func() { _ = r.Stop() }()
			n, err := r.Queue.Drain(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(os.Stdout, "delivered %d\n", n)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <type> [id]",
		Short: "Read through the local cache, serving stale data when offline",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			return runReplicaGet(cmd.Context(), apiFlag, replicaDBFlag, args[0], id, os.Stdout, os.Stderr)
		},
	})

	submitCmd := &cobra.Command{
		Use:   "submit <create|update|delete> <type> [id]",
		Short: "Send a write now, or queue it when the server is unreachable",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetString("data")
			id := ""
			if len(args) == 3 {
				id = args[2]
			}
			return runReplicaSubmit(cmd.Context(), apiFlag, replicaDBFlag, replica.MutationKind(args[0]), args[1], id, data, os.Stdout)
		},
	}
	submitCmd.Flags().StringP("data", "d", "", "JSON item body for create and update")
	cmd.AddCommand(submitCmd)
	return cmd
}

// itemPath builds the compendium endpoint for t and an optional id.
func itemPath(typ, id string) (string, error) {
	t, err := model.ParseItemType(typ)
	if err != nil {
		return "", err
	}
	p := "/api/compendium/" + string(t)
	if id = strings.TrimSpace(id); id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p, nil
}

func runReplicaGet(ctx context.Context, apiURL, dbPath, typ, id string, out, errOut io.Writer) error {
	path, err := itemPath(typ, id)
	if err != nil {
		return err
	}
	r, err := openReplica(ctx, apiURL, dbPath, zerolog.Nop())
	if err != nil {
		return err
	}
	defer func() { _ = r.Stop() }()

	e, err := r.Fetch(ctx, path)
	if err != nil {
		return err
	}
	if e.Stale {
		_, _ = fmt.Fprintf(errOut, "serving stale copy from %s\n", e.FetchedAt.Format(time.RFC3339))
	}
	_, err = fmt.Fprintln(out, strings.TrimSpace(string(e.Payload)))
	return err
}

func runReplicaSubmit(ctx context.Context, apiURL, dbPath string, kind replica.MutationKind, typ, id, data string, out io.Writer) error {
	if (kind == replica.KindUpdate || kind == replica.KindDelete) && strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s requires an item id", kind)
	}
	path, err := itemPath(typ, id)
	if err != nil {
		return err
	}
	var payload any
	if data = strings.TrimSpace(data); data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		payload = json.RawMessage(data)
	}

	r, err := openReplica(ctx, apiURL, dbPath, zerolog.Nop())
	if err != nil {
		return err
	}
	defer func() { _ = r.Stop() }()

	mid, queued, err := r.Queue.Submit(ctx, kind, path, payload)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(map[string]any{"id": mid, "queued": queued})
}

func openReplica(ctx context.Context, apiURL, dbPath string, log zerolog.Logger) (*replica.Replica, error) {
	if dbPath == "" {
		p, err := localstate.DBPath()
		if err != nil {
			return nil, err
		}
		dbPath = p
	}
	return replica.Open(ctx, replica.Config{ServerURL: apiURL, DBPath: dbPath}.Defaults(), log)
}

func runReplicaWatch(ctx context.Context, apiURL, dbPath string, out io.Writer) error {
	log := logger.Component(logger.NewWithWriter(os.Stderr, "compendiumctl"), "replica")
	r, err := openReplica(ctx, apiURL, dbPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = r.Stop() }()

	enc := json.NewEncoder(out)
	unsubscribe := r.Watch(func(ev broadcast.Event) { _ = enc.Encode(ev) })
	defer unsubscribe()

	r.Start(ctx)
	<-ctx.Done()
	return nil
}

type replicaStatus struct {
	Version    string                   `json:"version,omitempty"`
	VersionAt  *time.Time               `json:"versionAt,omitempty"`
	Queue      replica.QueueStatus      `json:"queue"`
	DeadLetter []replica.QueuedMutation `json:"deadLetters,omitempty"`
}

func runReplicaStatus(ctx context.Context, apiURL, dbPath string, out io.Writer) error {
	r, err := openReplica(ctx, apiURL, dbPath, zerolog.Nop())
	if err != nil {
		return err
	}
	defer func() { _ = r.Stop() }()

	var st replicaStatus
	tok, ok, err := r.Version(ctx)
	if err != nil {
		return err
	}
	if ok {
		at := time.UnixMilli(tok.Timestamp).UTC()
		st.Version, st.VersionAt = tok.Version, &at
	}
	if st.Queue, err = r.Queue.Status(ctx); err != nil {
		return err
	}
	if st.DeadLetter, err = r.Queue.DeadLetters(ctx); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
