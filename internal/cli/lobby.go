package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/cache"
	"github.com/mcoot/bunker/internal/model"
)

func newLobbyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Lobby management commands",
	}

	cmd.AddCommand(newLobbyExistsCmd())
	cmd.AddCommand(newLobbyGetCmd())
	cmd.AddCommand(newLobbyCreateCmd())
	cmd.AddCommand(newLobbyJoinCmd())
	cmd.AddCommand(newLobbyLeaveCmd())
	cmd.AddCommand(newLobbyDeleteCmd())
	cmd.AddCommand(newLobbyDeleteAllCmd())
	cmd.AddCommand(newLobbyPlayersCmd())
	cmd.AddCommand(newLobbyParticipantsCmd())
	cmd.AddCommand(newLobbyCheckPasswordCmd())

	return cmd
}

func newLobbyExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <name>",
		Short: "Check whether a lobby exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := model.LobbyName(args[0])
			ok, err := client.LobbyExists(cmd.Context(), name)
			if err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(response.Exists{Name: string(name), Exists: ok})
			return nil
		},
	}
}

func newLobbyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Get lobby details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lobby, err := client.GetLobby(cmd.Context(), model.LobbyName(args[0]))
			if err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(*lobby)
			return nil
		},
	}
}

func newLobbyCreateCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := model.LobbyCredentials{Name: model.LobbyName(args[0]), Password: password}
			view, err := client.CreateLobby(cmd.Context(), creds)
			if err != nil {
				return err
			}
			localCache.Set(creds.Name, cache.Entry{Password: password, Players: view.Players})
			saveCache()

			NewOutput(cfg.Output).Print(*view)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Lobby password")

	return cmd
}

func newLobbyJoinCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "join <name>",
		Short: "Join a lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := model.LobbyCredentials{Name: model.LobbyName(args[0]), Password: password}
			view, err := client.JoinLobby(cmd.Context(), creds)
			if err != nil {
				return err
			}
			localCache.Set(creds.Name, cache.Entry{Password: password, Players: view.Players})
			saveCache()

			NewOutput(cfg.Output).Print(*view)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Lobby password")

	return cmd
}

func newLobbyLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave [name]",
		Short: "Leave a lobby",
		Long:  "Leave a lobby. Without a name, leaves whichever lobby you are in.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name model.LobbyName
			if len(args) == 1 {
				name = model.LobbyName(args[0])
			} else {
				row, err := client.Participation(cmd.Context(), "")
				if err != nil {
					return err
				}
				name = row.LobbyName
			}

			if err := client.LeaveLobby(cmd.Context(), name); err != nil {
				return err
			}
			localCache.Delete(name)
			saveCache()

			NewOutput(cfg.Output).PrintMessage(fmt.Sprintf("Left lobby %s", name))
			return nil
		},
	}
}

func newLobbyDeleteCmd() *cobra.Command {
	var (
		password string
		version  int64
	)

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a lobby you created",
		Long: `Delete a lobby you created. The password defaults to the one remembered
from create/join. --version refuses the delete if anyone joined or left
since you last looked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := model.LobbyName(args[0])
			if !cmd.Flags().Changed("password") {
				if entry, ok := localCache.Get(name); ok {
					password = entry.Password
				}
			}

			deleted, err := client.DeleteLobby(cmd.Context(), model.LobbyCredentials{Name: name, Password: password}, version)
			if err != nil {
				if errors.Is(err, model.ErrLobbyNotFound) {
					localCache.Delete(name)
					saveCache()
				}
				return err
			}
			localCache.Delete(name)
			saveCache()

			NewOutput(cfg.Output).Print(response.Deleted{Deleted: deleted})
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Lobby password (defaults to the cached one)")
	cmd.Flags().Int64Var(&version, "version", 0, "Expected lobby version")

	return cmd
}

func newLobbyDeleteAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-all",
		Short: "Delete every lobby (creator of your current lobby only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := client.DeleteAllLobbies(cmd.Context())
			if err != nil {
				return err
			}
			localCache.Clear()
			saveCache()

			NewOutput(cfg.Output).Print(response.Deleted{Deleted: deleted})
			return nil
		},
	}
}

func newLobbyPlayersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "players <name>",
		Short: "List a lobby's players and their traits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := model.LobbyName(args[0])
			players, err := client.Players(cmd.Context(), name)
			if err != nil {
				return err
			}
			if localCache.SetPlayers(name, players) {
				saveCache()
			}
			NewOutput(cfg.Output).Print(response.Players{Lobby: string(name), Players: players})
			return nil
		},
	}
}

func newLobbyParticipantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "participants <name>",
		Short: "List a lobby's raw participation rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows []response.Participant
			if err := client.Get(cmd.Context(), lobbyPath(model.LobbyName(args[0]), "participants"), &rows); err != nil {
				return err
			}
			NewOutput(cfg.Output).Print(rows)
			return nil
		},
	}
}

func newLobbyCheckPasswordCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "check-password <name>",
		Short: "Check a password against the locally remembered one",
		Long: `Check a password against the one remembered from create/join. This never
contacts the server, so the answer can be stale.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := localCache.CheckPassword(model.LobbyName(args[0]), password)
			NewOutput(cfg.Output).Print(map[string]bool{"match": ok})
			if !ok {
				return model.ErrBadPassword
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password to check")

	return cmd
}
