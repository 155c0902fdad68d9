package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/cache"
	"github.com/mcoot/bunker/internal/services/reconnect"
	"github.com/mcoot/bunker/internal/session"
)

func newReconnectCmd() *cobra.Command {
	var (
		attempts int
		interval time.Duration
		remote   bool
	)

	cmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Restore the lobby you were last in",
		Long: `Look up your participation and, if its lobby still has players, put you
back in it. A participation row whose lobby has emptied is removed.

By default the sequence runs here against the API and retries transient
failures with backoff. --remote asks the server to run it instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cfg.Output)

			if remote {
				var result response.Reconnect
				if err := client.Post(cmd.Context(), "/api/v1/reconnect", nil, &result); err != nil {
					return err
				}
				rememberRestored(result)
				out.Print(result)
				return nil
			}

			sess := session.New()
			flow := reconnect.NewFlow(client, client, sess, logger)
			flow.MaxAttempts = attempts
			flow.InitialInterval = interval

			result, err := flow.Run(cmd.Context())
			if result == nil {
				return err
			}
			view := response.ReconnectFromResult(result, sess.Snapshot())
			rememberRestored(view)
			out.Print(view)
			return err
		},
	}

	cmd.Flags().IntVar(&attempts, "attempts", reconnect.DefaultMaxAttempts, "Maximum attempts")
	cmd.Flags().DurationVar(&interval, "interval", reconnect.DefaultInitialInterval, "Initial retry interval")
	cmd.Flags().BoolVar(&remote, "remote", false, "Run the reconnect on the server")

	return cmd
}

// rememberRestored caches the lobby a reconnect put us back into
func rememberRestored(r response.Reconnect) {
	if r.Outcome != reconnect.OutcomeRestored || r.Lobby == nil {
		return
	}
	localCache.Set(r.Lobby.Name, cache.Entry{Password: r.Lobby.Password, Players: r.Players})
	saveCache()
}
