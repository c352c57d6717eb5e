// Package main sends one lifecycle event to a running audit scheduler, for
// smoke tests after a deployment and for wiring up a host application.
//
// The event goes over Redis pub/sub when -redis is set, otherwise it is
// POSTed to the HTTP ingest endpoint with the ingest key.
//
//	emit-event -type user_created -user-id 42 -username alice -roles administrator
//	emit-event -redis localhost:6379 -type user_logged_in -user-id 42
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/events"
)

func main() {
	var (
		evType   = flag.String("type", string(events.UserCreated), "event type")
		userID   = flag.Int64("user-id", 0, "subject user id")
		username = flag.String("username", "", "subject username")
		email    = flag.String("email", "", "subject email")
		roles    = flag.String("roles", "", "comma separated roles after the change")
		oldRoles = flag.String("old-roles", "", "comma separated roles before a role change")
		actorID  = flag.Int64("actor-id", 0, "acting user id (0 for system)")
		actor    = flag.String("actor", "", "acting username")

		redisAddr = flag.String("redis", "", "publish over Redis at this address instead of HTTP")
		channel   = flag.String("channel", events.DefaultChannel, "Redis channel")
		url       = flag.String("url", "http://localhost:8080/api/v1/events", "ingest endpoint")
		key       = flag.String("key", os.Getenv("UAS_INGEST_KEY"), "ingest API key")
	)
	flag.Parse()

	ev := events.Event{
		Type: events.Type(*evType),
		User: models.DirectoryUser{
			ID:       *userID,
			Username: *username,
			Email:    *email,
			Roles:    splitList(*roles),
		},
		OldRoles:   splitList(*oldRoles),
		Actor:      models.Actor{ID: *actorID, Username: *actor},
		OccurredAt: time.Now().UTC(),
	}
	if ev.Type == events.RoleChanged && len(ev.User.Roles) > 0 {
		ev.NewRole = ev.User.Roles[0]
	}
	if err := ev.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if *redisAddr != "" {
		err = publish(ctx, *redisAddr, *channel, ev)
	} else {
		err = post(ctx, *url, *key, ev)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func publish(ctx context.Context, addr, channel string, ev events.Event) error {
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	n, err := events.NewRedisPublisher(client, channel).Publish(ctx, ev)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no subscriber on %s received the event", channel)
	}
	fmt.Printf("Published %s to %d subscriber(s)\n", ev.Type, n)
	return nil
}

func post(ctx context.Context, url, key string, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", key)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response:\n%s\n", string(respBody))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest rejected the event")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
