package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/realtime"
	"github.com/mcoot/bunker/internal/reconciler"
	"github.com/mcoot/bunker/internal/traits"
)

func newWatchCmd() *cobra.Command {
	var templates string

	cmd := &cobra.Command{
		Use:   "watch [name]",
		Short: "Watch a lobby's players live",
		Long: `Subscribe to a lobby's change feed over websocket and print the player
list every time it changes. Without a name, watches the lobby you are in.

Type "r" and Enter to force a reconnect, "q" to quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var name model.LobbyName
			if len(args) == 1 {
				name = model.LobbyName(args[0])
			} else {
				row, err := client.Participation(ctx, "")
				if err != nil {
					return err
				}
				name = row.LobbyName
			}
			if err := name.Validate(); err != nil {
				return err
			}

			pool := traits.DefaultPool()
			if templates != "" {
				p, err := traits.LoadPool(templates)
				if err != nil {
					return err
				}
				pool = p
			}

			out := NewOutput(cfg.Output)
			out.w = cmd.OutOrStdout()

			dialer := &realtime.Dialer{BaseURL: cfg.ServerURL, Token: cfg.Token, Logger: logger}
			rec := reconciler.New(client, dialer, pool, logger,
				reconciler.WithNotices(func(n reconciler.Notice) {
					if cfg.Output != "json" {
						out.Print(n)
					}
				}))

			sub := rec.Subscribe(ctx, name,
				func(players []model.Characteristic) {
					out.printRoster(name, players)
					if localCache.SetPlayers(name, players) {
						saveCache()
					}
				},
				func(disconnected bool) {
					if disconnected {
						fmt.Fprintln(cmd.ErrOrStderr(), "feed disconnected; type r to reconnect")
					} else {
						fmt.Fprintln(cmd.ErrOrStderr(), "feed connected")
					}
				})
			defer sub.Close()

			lines := stdinLines()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-sub.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						// stdin closed: keep watching until interrupted
						lines = nil
						continue
					}
					switch line {
					case "r":
						sub.Reconnect()
					case "q":
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&templates, "templates", "", "JSON file of trait templates to characterise with")

	return cmd
}
