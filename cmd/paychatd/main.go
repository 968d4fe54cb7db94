package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/paychat-app/paychat/internal/config"
	"github.com/paychat-app/paychat/internal/daemon"
	"github.com/paychat-app/paychat/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	profileName := *profileFlag
	if profileName == "" {
		profileName = cfg.DefaultProfile
	}
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, Config: cfg}),
	)

	app.Run()
}
