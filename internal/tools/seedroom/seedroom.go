package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"cardroom/internal/dbconfig"
	"cardroom/internal/membership"
)

// Statements are kept as consts so the test can check every referenced
// column against the bridge's DDL.
const (
	insertRoomSQL = `
        INSERT INTO rooms (id, owner_id)
        VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING`

	insertPlayerSQL = `
        INSERT INTO roomplayers (room_id, user_id, name, seat, is_ready, is_connected)
        VALUES ($1, $2, $3, $4, $5, true)
        ON CONFLICT (room_id, user_id) DO UPDATE SET is_ready = $5, is_connected = true`

	insertStateSQL = `
        INSERT INTO roomstate (room_id)
        VALUES ($1)
        ON CONFLICT (room_id) DO NOTHING`
)

// Seeds a demo room with two ready players so a single developer can
// watch a countdown and deal without a second browser.
func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	roomID := flag.String("room", "", "room id to seed (default: random)")
	owner := flag.String("owner", "demo-owner", "owner user id")
	guest := flag.String("guest", "demo-guest", "second player user id")
	ready := flag.Bool("ready", true, "seed both players as ready")
	flag.Parse()

	if *roomID == "" {
		id, err := membership.NewRoomID()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate room id: %v\n", err)
			os.Exit(1)
		}
		*roomID = id
	}

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "begin error: %v\n", err)
		os.Exit(1)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, insertRoomSQL, *roomID, *owner); err != nil {
		fmt.Fprintf(os.Stderr, "insert room: %v\n", err)
		os.Exit(1)
	}

	players := []struct {
		userID string
		name   string
		seat   int
	}{
		{*owner, "Demo Owner", 0},
		{*guest, "Demo Guest", 1},
	}
	for _, p := range players {
		if _, err := tx.Exec(ctx, insertPlayerSQL, *roomID, p.userID, p.name, p.seat, *ready); err != nil {
			fmt.Fprintf(os.Stderr, "insert player %s: %v\n", p.userID, err)
			os.Exit(1)
		}
	}

	if _, err := tx.Exec(ctx, insertStateSQL, *roomID); err != nil {
		fmt.Fprintf(os.Stderr, "insert roomstate: %v\n", err)
		os.Exit(1)
	}

	// Announce the change so a running service picks up the seed.
	for _, table := range []string{"roomplayers", "roomstate"} {
		payload, _ := json.Marshal(map[string]string{"room_id": *roomID, "table": table})
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, cfg.NotifyChannel, string(payload)); err != nil {
			fmt.Fprintf(os.Stderr, "notify %s: %v\n", table, err)
			os.Exit(1)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "commit error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded room %s: owner=%s guest=%s ready=%v\n", *roomID, *owner, *guest, *ready)
}
