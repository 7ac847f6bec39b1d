// Command token issues a signed token for an existing account, for use with
// scripts and websocket clients. The server only accepts the token when -id
// and -user name a registered account; the account's stored role applies.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"jammy/internal/auth"
	"jammy/internal/models"

	"github.com/joho/godotenv"
)

const usage = `Usage: AUTH_SECRET=<secret> token -id <user id> -user <username> [-expiry 1h]

-id and -user must be the ID and username of a registered account.
Tokens for unknown accounts are rejected by the server.`

func main() {
	userID := flag.String("id", "", "ID of a registered account")
	username := flag.String("user", "", "Username of the account given by -id")
	expiry := flag.Duration("expiry", time.Hour, "Token lifetime")
	flag.Usage = func() { fmt.Fprintln(flag.CommandLine.Output(), usage) }
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("AUTH_SECRET")
	if secret == "" || *userID == "" || *username == "" {
		flag.Usage()
		os.Exit(1)
	}

	tm := auth.NewTokenManager([]byte(secret), auth.DefaultIssuer, *expiry)
	token, expiresAt, err := tm.Issue(models.UserIdentity{UserID: *userID, Username: *username, Role: models.RoleMember})
	if err != nil {
		fmt.Printf("Error issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
}
