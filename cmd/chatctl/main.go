package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/taptoon/taptoon-fe/internal/api"
	"github.com/taptoon/taptoon-fe/internal/lock"
	"github.com/taptoon/taptoon-fe/internal/profile"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	receiverFlag := flag.String("receiver", "", "open: user id to start a room with")
	postFlag := flag.String("post", "", "attach/cancel/pending: matching post id instead of a room")
	portfolioFlag := flag.String("portfolio", "", "attach/cancel/pending: portfolio id instead of a room")
	flag.Parse()

	var formScope, formOwner string
	switch {
	case *postFlag != "" && *portfolioFlag != "":
		fatalf("--post and --portfolio are exclusive")
	case *postFlag != "":
		formScope, formOwner = "post", *postFlag
	case *portfolioFlag != "":
		formScope, formOwner = "portfolio", *portfolioFlag
	}

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// login writes the profile's credential and needs no daemon.
	if args[0] == "login" {
		if len(args) != 2 {
			fatalf("usage: chatctl login <access-token>")
		}
		if err := profile.SaveToken(profileName, args[1]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Token saved for profile %q. Restart chatd to use it.\n", profileName)
		return
	}

	if _, held := lock.Probe(profile.LockPath(profileName)); !held {
		fatalf("chatd is not running for profile %q (start it with: chatd --profile %s)", profileName, profileName)
	}

	c, err := api.Dial(profile.SocketPath(profileName))
	if err != nil {
		fatalf("cannot connect to daemon for profile %q: %v", profileName, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) >= 2 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		out.status(must(c.GetStatus(ctx)))
	case "rooms":
		if len(args) >= 2 && args[1] == "refresh" {
			out.rooms(must(c.RefreshRooms(ctx)))
		} else {
			out.rooms(must(c.ListRooms(ctx)))
		}
	case "open":
		switch {
		case *receiverFlag != "":
			out.timeline(must(c.OpenWithReceiver(ctx, *receiverFlag)))
		case len(args) == 2:
			out.timeline(must(c.OpenRoom(ctx, args[1])))
		default:
			fatalf("usage: chatctl open <room-id> | chatctl --receiver <user-id> open")
		}
	case "close":
		requireArgs(args, 2, "close <room-id>")
		check(c.CloseRoom(ctx, args[1]))
		out.done("Closed room " + args[1])
	case "create":
		requireArgs(args, 2, "create <receiver-id>")
		resp := must(c.CreateRoom(ctx, args[1]))
		out.done(fmt.Sprintf("Created room %v", resp["room_id"]), resp)
	case "delete":
		requireArgs(args, 2, "delete <room-id>")
		check(c.DeleteRoom(ctx, args[1]))
		out.done("Deleted room " + args[1])
	case "send":
		requireArgs(args, 2, "send <room-id> [text...]")
		resp := must(c.SendMessage(ctx, args[1], strings.Join(args[2:], " ")))
		out.done(fmt.Sprintf("Sent (images: %v, text: %v)", resp["images_sent"], resp["text_sent"]), resp)
	case "attach":
		if formScope != "" {
			requireArgs(args, 2, "--"+formScope+" <id> attach <file...>")
			out.attachments(must(c.AttachToForm(ctx, formScope, formOwner, absPaths(args[1:]))))
			break
		}
		requireArgs(args, 3, "attach <room-id> <file...>")
		out.attachments(must(c.Attach(ctx, args[1], absPaths(args[2:]))))
	case "cancel":
		if formScope != "" {
			requireArgs(args, 2, "--"+formScope+" <id> cancel <local-ref>")
			check(c.CancelFormAttachment(ctx, formScope, formOwner, args[1]))
			out.done("Cancelled " + args[1])
			break
		}
		requireArgs(args, 3, "cancel <room-id> <local-ref>")
		check(c.CancelAttachment(ctx, args[1], args[2]))
		out.done("Cancelled " + args[2])
	case "pending":
		if formScope != "" {
			out.attachments(must(c.PendingFormAttachments(ctx, formScope, formOwner)))
			break
		}
		requireArgs(args, 2, "pending <room-id>")
		out.attachments(must(c.PendingAttachments(ctx, args[1])))
	case "history":
		requireArgs(args, 2, "history <room-id> [limit]")
		limit := 0
		if len(args) >= 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n < 0 {
				fatalf("invalid limit %q", args[2])
			}
			limit = n
		}
		out.timeline(must(c.History(ctx, args[1], limit)))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <token>              Store the access token for the profile")
	fmt.Fprintln(os.Stderr, "  status                     Show daemon and connection status")
	fmt.Fprintln(os.Stderr, "  rooms [refresh]            List rooms, optionally refetching them")
	fmt.Fprintln(os.Stderr, "  open <room-id>             Open a room and print its timeline")
	fmt.Fprintln(os.Stderr, "  --receiver <uid> open      Start a room with a user and open it")
	fmt.Fprintln(os.Stderr, "  close <room-id>            Close an open room")
	fmt.Fprintln(os.Stderr, "  create <receiver-id>       Create a room with a user")
	fmt.Fprintln(os.Stderr, "  delete <room-id>           Delete a room")
	fmt.Fprintln(os.Stderr, "  send <room-id> [text...]   Send pending images then text")
	fmt.Fprintln(os.Stderr, "  attach <room-id> <file...> Upload images into a room")
	fmt.Fprintln(os.Stderr, "  cancel <room-id> <ref>     Cancel a pending attachment")
	fmt.Fprintln(os.Stderr, "  pending <room-id>          List pending attachments")
	fmt.Fprintln(os.Stderr, "  history <room-id> [limit]  Show a room's messages")
	fmt.Fprintln(os.Stderr, "  watch [prefix]             Stream daemon events")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "--post <id> | --portfolio <id> with attach <file...>, cancel <ref>")
	fmt.Fprintln(os.Stderr, "or pending target a post or portfolio form instead of a room.")
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.WatchEvents(ctx, prefix, func(evt map[string]any) error {
		if jsonOut {
			outputJSON(evt)
			return nil
		}
		ts := time.UnixMilli(int64(asFloat(evt["occurred_at_unix_ms"]))).Format("15:04:05")
		payload, _ := json.Marshal(evt["payload"])
		fmt.Printf("%s %-28v %s\n", ts, evt["kind"], payload)
		return nil
	})
	if err != nil && ctx.Err() == nil && status.Code(err) != codes.Canceled {
		fatalf("%v", err)
	}
}

// printer renders responses as text or indented JSON.
type printer struct {
	json bool
}

func (p printer) done(msg string, resp ...map[string]any) {
	if p.json {
		if len(resp) > 0 {
			outputJSON(resp[0])
		} else {
			outputJSON(map[string]any{"ok": true})
		}
		return
	}
	fmt.Println(msg)
}

func (p printer) status(resp map[string]any) {
	if p.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:       %v\n", resp["profile"])
	fmt.Printf("User:          %v\n", resp["user_id"])
	fmt.Printf("Uptime:        %s\n", (time.Duration(asFloat(resp["uptime_ms"])) * time.Millisecond).Round(time.Second))
	if n, ok := resp["notifications"].(map[string]any); ok {
		fmt.Printf("Notifications: %v (retries: %v)\n", n["state"], n["retry_count"])
	}
	fmt.Printf("Rooms:         %v (unread: %v)\n", resp["rooms"], resp["total_unread"])
	if open, ok := resp["open_rooms"].([]any); ok {
		for _, o := range open {
			r, _ := o.(map[string]any)
			fmt.Printf("  open %-8v %v\n", r["room_id"], r["state"])
		}
	}
}

func (p printer) rooms(resp map[string]any) {
	if p.json {
		outputJSON(resp)
		return
	}
	list, _ := resp["rooms"].([]any)
	if len(list) == 0 {
		fmt.Println("No rooms.")
		return
	}
	for _, item := range list {
		r, _ := item.(map[string]any)
		fmt.Printf("%-8v %-16s unread %-4v %v\n", r["room_id"], formatMs(r["last_message_at"]), r["unread_count"], r["last_message_text"])
	}
}

func (p printer) timeline(resp map[string]any) {
	if p.json {
		outputJSON(resp)
		return
	}
	header := fmt.Sprintf("Room %v", resp["room_id"])
	if st, ok := resp["state"]; ok {
		header += fmt.Sprintf(" [%v]", st)
	}
	if src, ok := resp["source"]; ok {
		header += fmt.Sprintf(" (%v)", src)
	}
	fmt.Println(header)
	items, _ := resp["items"].([]any)
	for _, item := range items {
		it, _ := item.(map[string]any)
		if it["type"] == "attachment" {
			fmt.Printf("  [%v] %v %v\n", it["status"], it["local_ref"], it["file_name"])
			continue
		}
		who := fmt.Sprintf("%v", it["sender_id"])
		if it["from_me"] == true {
			who = "me"
		}
		body := it["body"]
		if it["kind"] == "IMAGE" {
			body = it["original_url"]
		}
		fmt.Printf("  %s %-6s %v\n", formatMs(it["created_at"]), who, body)
	}
}

func (p printer) attachments(resp map[string]any) {
	if p.json {
		outputJSON(resp)
		return
	}
	list, _ := resp["attachments"].([]any)
	if len(list) == 0 {
		fmt.Println("No attachments.")
	}
	for _, item := range list {
		a, _ := item.(map[string]any)
		fmt.Printf("%-10v %-36v %v\n", a["status"], a["local_ref"], a["file_name"])
	}
	if ready, _ := resp["ready_ids"].([]any); len(ready) > 0 {
		fmt.Printf("Ready image ids: %v\n", ready)
	}
	if errs, _ := resp["errors"].([]any); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
		os.Exit(1)
	}
}

func absPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fatalf("%v", err)
		}
		out = append(out, abs)
	}
	return out
}

func formatMs(v any) string {
	ms := asFloat(v)
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(int64(ms)).Format("2006-01-02 15:04")
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fatalf("usage: chatctl %s", usage)
	}
}

func must(resp map[string]any, err error) map[string]any {
	check(err)
	return resp
}

func check(err error) {
	if err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		if st.Code() == codes.Unauthenticated {
			fatalf("%s (run: chatctl login <token>, then restart chatd)", st.Message())
		}
		fatalf("%s: %s", st.Code(), st.Message())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		fatalf("daemon did not answer in time")
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
