package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skycastd/skycast/internal/auth"
	"github.com/skycastd/skycast/internal/session"
	"github.com/skycastd/skycast/internal/util"
	"github.com/skycastd/skycast/internal/weather"
)

const usage = `usage: weatherctl [flags] <command>

commands:
  current <city>    print current weather for a city
  forecast <city>   print the multi-day forecast for a city
  update            ask the service to refresh its data
  watch             subscribe and print service updates until interrupted
`

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:7420/ws", "Weather service websocket URL")
	secret := flag.String("secret", "", "Shared auth secret; mints a handshake token when set")
	timeout := flag.Duration("timeout", 15*time.Second, "Per-command timeout")
	flag.Parse()

	util.InitLogger()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	token := ""
	if *secret != "" {
		t, err := auth.Token(*secret, "weatherctl", time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mint token: %v\n", err)
			os.Exit(1)
		}
		token = t
	}

	client := weather.NewClient(session.NewWSTransport(*addr, token))

	// Teardown runs even on the fault path, so the service stops pushing
	// to a dead client; the fault itself is not suppressed.
	defer func() {
		if r := recover(); r != nil {
			client.Teardown()
			panic(r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "current":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Println(client.CurrentForCity(ctx, args[1]))
	case "forecast":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Println(client.ForecastForCity(ctx, args[1]))
	case "update":
		client.Connect()
		client.TriggerUpdate()
		// Oneway; give the frame a moment to leave before disconnecting.
		time.Sleep(time.Second)
	case "watch":
		watch(client)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	client.Teardown()
}

func watch(client *weather.Client) {
	sub := weather.SubscriberFunc(func(u weather.Update) error {
		when := "never"
		if u.LastUpdateMillis > 0 {
			when = time.UnixMilli(u.LastUpdateMillis).Format(time.DateTime)
		}
		fmt.Printf("service %s, last update %s\n", u.State, when)
		return nil
	})
	client.Subscribe(sub)
	defer client.Unsubscribe(sub)

	client.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
