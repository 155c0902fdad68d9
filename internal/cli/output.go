package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/reconciler"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Player:
		o.printPlayer(v)
	case response.AuthResponse:
		o.printAuth(v)
	case response.Lobby:
		o.printLobby(v)
	case response.LobbyView:
		o.printLobbyView(v)
	case response.Exists:
		fmt.Fprintf(o.w, "Lobby %s exists: %s\n", v.Name, yesNo(v.Exists))
	case response.Deleted:
		fmt.Fprintf(o.w, "Deleted: %s\n", yesNo(v.Deleted))
	case response.Players:
		fmt.Fprintf(o.w, "Lobby: %s\n", v.Lobby)
		o.printPlayers(v.Players)
	case response.Reconnect:
		o.printReconnect(v)
	case response.Health:
		o.printHealth(v)
	case reconciler.Notice:
		fmt.Fprintf(o.w, "* %s %s\n", v.Name, v.Kind)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (o *Output) printPlayer(p response.Player) {
	fmt.Fprintf(o.w, "Player: %s (%s)\n", p.DisplayName, p.ID)
	fmt.Fprintf(o.w, "Guest: %s\n", yesNo(p.IsGuest))
}

func (o *Output) printAuth(a response.AuthResponse) {
	o.printPlayer(a.Player)
	fmt.Fprintf(o.w, "Token: %s\n", a.SessionToken)
}

func (o *Output) printLobby(l response.Lobby) {
	fmt.Fprintf(o.w, "Lobby: %s\n", l.Name)
	fmt.Fprintf(o.w, "Creator: %s\n", l.CreatorID)
	fmt.Fprintf(o.w, "Version: %d\n", l.Version)
}

func (o *Output) printLobbyView(v response.LobbyView) {
	o.printLobby(v.Lobby)
	fmt.Fprintf(o.w, "Bunker: %d m², %s, food for %d\n",
		v.Bunker.AreaSquareMetres, v.Bunker.Duration, v.Bunker.FoodFor)
	fmt.Fprintf(o.w, "You are player #%d\n", v.Self.ID)
	o.printPlayers(v.Players)
}

func (o *Output) printReconnect(r response.Reconnect) {
	fmt.Fprintf(o.w, "Outcome: %s\n", r.Outcome)
	fmt.Fprintf(o.w, "State: %s\n", r.State)
	if r.Player != nil {
		fmt.Fprintf(o.w, "Player: %s (%s)\n", r.Player.DisplayName, r.Player.ID)
	}
	if r.Lobby != nil {
		fmt.Fprintf(o.w, "Lobby: %s\n", r.Lobby.Name)
		o.printPlayers(r.Players)
	}
}

func (o *Output) printHealth(h response.Health) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	if h.Storage != "" {
		fmt.Fprintf(o.w, "Storage: %s\n", h.Storage)
	}
	if h.Feed != "" {
		fmt.Fprintf(o.w, "Feed: %s\n", h.Feed)
	}
}

// printPlayers renders the characteristic table
func (o *Output) printPlayers(players []model.Characteristic) {
	fmt.Fprintf(o.w, "Players (%d):\n", len(players))
	if len(players) == 0 {
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tNAME\tPROFESSION\tAGE\tGENDER\tHEALTH\tHOBBY\tPHOBIA\tBAG")
	for _, p := range players {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Profession, p.Age, p.Gender, p.Health, p.Hobby, p.Phobia, p.BagItem)
	}
	_ = tw.Flush()
}

// printRoster prints a compact one-line summary, used by watch
func (o *Output) printRoster(lobby model.LobbyName, players []model.Characteristic) {
	if o.format == "json" {
		o.printJSON(response.Players{Lobby: string(lobby), Players: players})
		return
	}
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = fmt.Sprintf("%d:%s", p.ID, p.Name)
	}
	fmt.Fprintf(o.w, "[%s] %d players: %s\n", lobby, len(players), strings.Join(names, ", "))
}
