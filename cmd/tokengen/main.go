// Package main mints actor tokens for local development against the API.
// Tokens are signed with the configured key; with no JWT_SIGNING_KEY set that is
// the dev key, which production rejects.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"refaccess/internal/identity"
	"refaccess/internal/platform/config"
	id "refaccess/pkg/domain"
	"refaccess/pkg/requestcontext"
)

type tokenOutput struct {
	Token     string `json:"token"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	ExpiresIn string `json:"expires_in"`
}

func main() {
	actor := flag.String("actor-id", "", "Actor ID (UUID). Generated if empty.")
	role := flag.String("role", string(requestcontext.RoleRequester), "requester | subject | payment | admin")
	ttl := flag.Duration("ttl", 15*time.Minute, "Token time-to-live")
	asJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	actorID := id.ActorID(uuid.New())
	if *actor != "" {
		parsed, err := id.ParseActorID(*actor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid actor id: %v\n", err)
			os.Exit(1)
		}
		actorID = parsed
	}

	svc := identity.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	token, err := svc.Issue(actorID, requestcontext.Role(*role), *ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}

	if !*asJSON {
		fmt.Println(token)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(tokenOutput{
		Token:     token,
		ActorID:   actorID.String(),
		Role:      *role,
		ExpiresIn: ttl.String(),
	})
}
