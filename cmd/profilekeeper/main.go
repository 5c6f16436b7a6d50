// Command profilekeeper unlocks the local profile index and keeps the
// profile subsystem running until interrupted.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/profilekeeper/internal/app"
	"github.com/dmitrijs2005/profilekeeper/internal/autolock"
	"github.com/dmitrijs2005/profilekeeper/internal/config"
	"golang.org/x/term"
)

var readPassword = term.ReadPassword

func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	a, err := app.New(ctx, cfg, os.Stderr, autolock.Hooks{
		OnWarning: func(id string, remaining int) {
			fmt.Fprintf(os.Stderr, "profile %s locks in %d seconds\n", id, remaining)
		},
		OnLock: func(id, trigger string) {
			fmt.Fprintf(os.Stderr, "profile %s locked (%s)\n", id, trigger)
		},
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Guard()

	fmt.Fprint(os.Stderr, "Master password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		_ = a.Shutdown(ctx)
		log.Fatalf("read password: %v", err)
	}

	err = a.Start(ctx, pw)
	clear(pw)
	if err != nil {
		_ = a.Shutdown(ctx)
		log.Fatalf("%v", err)
	}

	fmt.Fprintf(os.Stderr, "%d profiles, press Ctrl+C to lock and exit\n", len(a.Manager.GetProfiles()))
	if err := a.Wait(ctx); err != nil {
		log.Printf("shutdown: %v", err)
		os.Exit(1)
	}
}
