// Command chatctl is a development companion for the chat server: it issues
// tokens and follows a user's conversations from the terminal.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"chatgraph/internal/security"
)

func main() {
	app := &cli.App{
		Name:  "chatctl",
		Usage: "talk to a chatgraph server",
		Before: func(*cli.Context) error {
			_ = godotenv.Load()
			return nil
		},
		Commands: []*cli.Command{
			tokenCommand(),
			watchCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "sign an access token the server accepts",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", EnvVars: []string{"JWT_SECRET"}, Required: true, Usage: "HMAC signing secret"},
			&cli.StringFlag{Name: "sub", Required: true, Usage: "user id (token subject)"},
			&cli.StringFlag{Name: "email"},
			&cli.StringFlag{Name: "name"},
			&cli.StringFlag{Name: "picture"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			if c.Duration("ttl") <= 0 {
				return cli.Exit("--ttl must be positive", 2)
			}
			tokens := security.NewTokenService(c.String("secret"), c.Duration("ttl"))
			tok, err := tokens.Issue(security.Identity{
				Subject: c.String("sub"),
				Email:   c.String("email"),
				Name:    c.String("name"),
				Picture: c.String("picture"),
			})
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}
