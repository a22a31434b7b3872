package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/adapters/authapi"
	"github.com/jmorel/visio/internal/adapters/capture"
	"github.com/jmorel/visio/internal/adapters/rtc"
	transport "github.com/jmorel/visio/internal/adapters/signal"
	"github.com/jmorel/visio/internal/app"
	"github.com/jmorel/visio/internal/config"
	"github.com/jmorel/visio/internal/core"
	"github.com/jmorel/visio/internal/domain"
)

// consoleUI is both the engine observer and the media surface: everything
// renders as terminal lines.
type consoleUI struct{}

func (consoleUI) IncomingCall(from string) {
	fmt.Printf("\n*** incoming call from %s (accept / reject) ***\n> ", from)
}

func (consoleUI) RemoteStreamUpdated(stream *core.RemoteStream) {
	fmt.Printf("\n*** remote stream now has %d track(s) ***\n> ", stream.Len())
}

func (consoleUI) AttachLocal(m core.LocalMedia, muted bool) {
	fmt.Printf("\n*** local preview attached (%d tracks, muted=%v) ***\n> ", len(m.Tracks()), muted)
}

func (consoleUI) AttachRemote(s *core.RemoteStream) {
	fmt.Printf("\n*** remote view attached ***\n> ")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	serverURL := flag.String("server", cfg.Client.ServerURL, "server base URL")
	username := flag.String("user", cfg.Client.Username, "username")
	password := flag.String("pass", cfg.Client.Password, "password")
	room := flag.String("room", cfg.Client.Room, "chat room")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: visio -user <name> -pass <password> [-server url] [-room name]")
		os.Exit(2)
	}

	accounts := authapi.New(*serverURL)
	if err := accounts.Register(ctx, *username, "", *password); err != nil {
		log.Warn().Err(err).Msg("register")
	}
	token, err := accounts.Login(ctx, *username, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("login failed")
	}

	wsURL := strings.Replace(*serverURL, "http", "ws", 1) + "/api/ws"
	tr, err := transport.Dial(ctx, wsURL, token)
	if err != nil {
		log.Fatal().Err(err).Msg("transport failed")
	}
	defer tr.Close()

	ui := consoleUI{}
	client, err := app.NewClient(
		*username,
		domain.RoomID(*room),
		tr,
		capture.NewSource(),
		rtc.Factory(cfg.Client.STUNServers),
		ui,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("client setup failed")
	}

	client.Chat.OnMessage(func(msg domain.ChatMessage) {
		if msg.Sender == *username {
			return
		}
		fmt.Printf("\n[%s] %s\n> ", msg.Sender, msg.Content)
	})
	if err := client.Chat.AnnounceJoin(); err != nil {
		log.Warn().Err(err).Msg("announce join")
	}

	fmt.Printf("connected as %s (room %s)\n", *username, *room)
	fmt.Println("commands: call <user> | accept | reject | hangup | mute | unmute | video on|off | msg <text> | quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	audioOn, videoOn := true, true
	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			client.Calls.EndCall()
			fmt.Println()
			return
		case <-tr.Done():
			client.Calls.EndCall()
			fmt.Println("connection lost")
			return
		case line, ok := <-lines:
			if !ok {
				client.Calls.EndCall()
				return
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch cmd {
			case "":
			case "call":
				if arg == "" {
					fmt.Println("call who?")
					continue
				}
				if err := client.Calls.StartCall(ctx, arg, domain.RoomID(*room), ui); err != nil {
					fmt.Println("call failed:", err)
				}
			case "accept":
				if err := client.Calls.AcceptCall(ctx, ui); err != nil {
					fmt.Println("accept failed:", err)
				}
			case "reject":
				client.Calls.RejectCall()
			case "hangup":
				client.Calls.EndCall()
			case "mute":
				audioOn = false
				client.Calls.SetAudioEnabled(false)
			case "unmute":
				audioOn = true
				client.Calls.SetAudioEnabled(true)
			case "video":
				videoOn = arg != "off"
				client.Calls.SetVideoEnabled(videoOn)
			case "msg":
				if err := client.Chat.Send(arg); err != nil {
					fmt.Println("send failed:", err)
				}
			case "status":
				fmt.Printf("state=%s remote=%q audio=%v video=%v\n",
					client.Calls.State(), client.Calls.Remote(), audioOn, videoOn)
			case "quit", "exit":
				client.Calls.EndCall()
				return
			default:
				fmt.Println("unknown command:", cmd)
			}
		}
	}
}
