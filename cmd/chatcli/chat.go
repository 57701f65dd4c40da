package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ammar1510/tripchat/internal/auth"
	"github.com/ammar1510/tripchat/internal/client"
	"github.com/ammar1510/tripchat/internal/models"
	chat "github.com/ammar1510/tripchat/internal/websocket"
)

func newChatCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <trip-id>",
		Short: "Join a trip's room and chat interactively",
		Long:  "Joins the room, prints the latest history and every new message. Each input line is sent; /older loads an earlier page and /quit leaves.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tripID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid trip id %q", args[0])
			}
			if opts.token == "" {
				return errors.New("a token is required (--token or $TRIPCHAT_TOKEN)")
			}
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts, tripID)
		},
	}
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, opts *globalOpts, tripID uuid.UUID) error {
	self, err := selfFromToken(opts.token)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := client.Dial(dialCtx, opts.wsURL(), opts.token)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	history := client.NewHistory(opts.server, opts.token)
	session := client.NewSession(conn, client.NewTimeline(tripID, self), history.Page)
	if err := session.Join(ctx); err != nil {
		return err
	}
	for _, e := range session.Timeline().View() {
		printMessage(out, e.CreatedAt, e.Sender.Name, e.Text)
	}

	session.OnEvent = func(ev client.Event) { printEvent(out, self, ev) }

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go session.Run(runCtx)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return session.Leave(ctx)
		case "/older":
			if err := printOlder(ctx, out, session); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			continue
		}

		ack, err := session.Send(ctx, line)
		if err != nil {
			return err
		}
		if !ack.Success {
			fmt.Fprintf(out, "! not sent: %s\n", ack.Error)
		}
	}
	return scanner.Err()
}

func printOlder(ctx context.Context, out io.Writer, session *client.Session) error {
	tl := session.Timeline()
	if !tl.HasMore() {
		fmt.Fprintln(out, "-- start of conversation --")
		return nil
	}
	n, err := session.LoadOlder(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "-- %d older messages --\n", n)
	for _, e := range tl.View()[:n] {
		printMessage(out, e.CreatedAt, e.Sender.Name, e.Text)
	}
	return nil
}

func printEvent(out io.Writer, self models.Sender, ev client.Event) {
	switch ev.Name {
	case chat.EventNewMessage:
		var m models.Message
		if json.Unmarshal(ev.Data, &m) == nil && m.Sender.ID != self.ID {
			printMessage(out, m.CreatedAt, m.Sender.Name, m.Text)
		}
	case chat.EventUserJoinedRoom, chat.EventUserLeftRoom:
		var p chat.PresencePayload
		if json.Unmarshal(ev.Data, &p) == nil {
			verb := "joined"
			if ev.Name == chat.EventUserLeftRoom {
				verb = "left"
			}
			fmt.Fprintf(out, "-- %s %s --\n", p.Name, verb)
		}
	case chat.EventError:
		var p chat.ErrorPayload
		if json.Unmarshal(ev.Data, &p) == nil {
			fmt.Fprintf(out, "! %s\n", p.Message)
		}
	}
}

// selfFromToken reads the caller's identity from the token's claims. The
// signature is not checked here; the server does that on connect.
func selfFromToken(token string) (models.Sender, error) {
	var claims auth.JWTClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return models.Sender{}, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return models.Sender{}, auth.ErrInvalidToken
	}
	return models.Sender{ID: id, Name: claims.Username}, nil
}
