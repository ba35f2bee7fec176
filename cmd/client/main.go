package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/atinyakov/sessionlock/internal/client/console"
	"github.com/atinyakov/sessionlock/internal/client/lockapi"
	"github.com/atinyakov/sessionlock/internal/client/profile"
	"github.com/atinyakov/sessionlock/internal/lock"
)

var (
	version   string
	buildDate string
)

// main opens one tab against the lock server and runs the shell.
func main() {
	var (
		baseURL     string
		certFile    string
		keyFile     string
		caFile      string
		profilePath string
		newTab      bool
		poll        time.Duration
		showVer     bool
	)

	flag.StringVar(&baseURL, "url", "https://localhost:8080", "server base URL")
	flag.StringVar(&certFile, "cert", "certs/alice.crt", "path to client cert")
	flag.StringVar(&keyFile, "key", "certs/alice.key", "path to client key")
	flag.StringVar(&caFile, "ca", "certs/ca.crt", "path to CA cert")
	flag.StringVar(&profilePath, "profile", profile.DefaultFile, "local profile keeping the tab id")
	flag.BoolVar(&newTab, "new-tab", false, "open a new tab instead of reloading the saved one")
	flag.DurationVar(&poll, "poll", 5*time.Second, "state poll interval")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("Session Lock Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	prof, err := profile.Load(profilePath)
	if err != nil {
		log.Fatal(err)
	}
	if newTab {
		prof.NewTab()
	}
	if err := prof.Save(); err != nil {
		log.Fatal(err)
	}

	httpClient, err := lockapi.LoadClientCertificate(certFile, keyFile, caFile)
	if err != nil {
		log.Fatal(err)
	}
	api := lockapi.New(httpClient, baseURL, prof.TabID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shell := console.New(api, os.Stdin, os.Stdout)
	api.StartPoller(ctx, poll, func(st lock.State) {
		if st.Phase.String() != prof.LastPhase {
			prof.SetLastPhase(st.Phase.String())
			_ = prof.Save()
			shell.Notify(st)
		}
	}, shell.NotifyError)

	fmt.Printf("Tab %s. Type 'help' for a list of commands.\n", prof.TabID)
	if err := shell.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
