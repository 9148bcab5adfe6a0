package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"pocketsync/internal/analytics"
	"pocketsync/internal/client"
	"pocketsync/internal/cmdlog"
	"pocketsync/internal/config"
	"pocketsync/internal/engage"
	"pocketsync/internal/jobs"
	"pocketsync/internal/logging"
	"pocketsync/internal/metrics"
	"pocketsync/internal/model"
	"pocketsync/internal/pocket"
	"pocketsync/internal/poll"
	"pocketsync/internal/realtime"
	"pocketsync/internal/reconcile"
	"pocketsync/internal/store/journal"
	"pocketsync/internal/theme"
	"pocketsync/internal/util"
)

const defaultConfig = "./pocketsync.yaml"

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	var err error
	switch cmd {
	case "init":
		err = cmdlog.Run(cmd, cmdInit)
	case "login":
		err = cmdlog.Run(cmd, cmdLogin)
	case "register":
		err = cmdlog.Run(cmd, cmdRegister)
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = cmdlog.RunContext(ctx, cmd, cmdWatch)
		stop()
	case "send":
		err = cmdlog.Run(cmd, cmdSend)
	case "heart":
		err = cmdlog.Run(cmd, func() error { return cmdReact(model.Hearts) })
	case "poop":
		err = cmdlog.Run(cmd, func() error { return cmdReact(model.Poops) })
	case "history":
		err = cmdlog.Run(cmd, cmdHistory)
	case "users":
		err = cmdlog.Run(cmd, cmdUsers)
	case "stats":
		err = cmdlog.Run(cmd, cmdStats)
	case "backfill":
		err = cmdlog.Run(cmd, cmdBackfill)
	default:
		printHelp()
		return
	}
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner(os.Stdout)
	fmt.Println("Usage: pocketsync <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file at ./pocketsync.yaml")
	fmt.Println("  login       Sign in and store the token in the config")
	fmt.Println("  register    Create an account")
	fmt.Println("  watch       Mirror the chat and print events as they happen")
	fmt.Println("  send        Send a message")
	fmt.Println("  heart       Heart a message by id")
	fmt.Println("  poop        Poop a message by id")
	fmt.Println("  history     Show the latest messages")
	fmt.Println("  users       List users")
	fmt.Println("  stats       Hourly activity and most reacted messages from the journal")
	fmt.Println("  backfill    Copy message history into the journal snapshot")
}

// setup parses the command's flags and loads the config they point to.
func setup(fs *flag.FlagSet) (config.Config, string, error) {
	cfgPath := fs.String("config", defaultConfig, "config path")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return config.Config{}, "", err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return cfg, *cfgPath, err
	}
	logging.SetLevel(cfg.Log.Level)
	return cfg, *cfgPath, nil
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// authorize reuses a stored token or signs in with the configured password.
func authorize(ctx context.Context, cfg config.Config, api pocket.API) (model.Authorization, error) {
	c := cfg.Credentials
	if c.Token != "" && c.UserID != "" {
		return model.Authorization{ID: c.UserID, Token: c.Token}, nil
	}
	if c.Username == "" || c.Password == "" {
		return model.Authorization{}, errors.New("no credentials: run `pocketsync login` or set POCKET_USERNAME and POCKET_PASSWORD")
	}
	_, auth, err := api.Authenticate(ctx, c.Username, c.Password)
	return auth, err
}

func authorName(m model.Message) string {
	if m.Author.User != nil && m.Author.User.Name != "" {
		return m.Author.User.Name
	}
	return m.Author.ID
}

func printMessage(prefix string, m model.Message) {
	fmt.Printf("%s %s %s: %s  %s\n", prefix, m.Timestamps.Created.Local().Format("15:04"), authorName(m),
		util.OneLine(m.Text, 80), theme.Reactions(len(m.Reactions.Hearts), len(m.Reactions.Poops)))
}

func cmdInit() error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfig, "path to write config")
	_ = fs.Parse(os.Args[2:])
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner(os.Stdout)
	fmt.Println("Config written to:", abs)
	return nil
}

func cmdLogin() error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	cfg, path, err := setup(fs)
	if err != nil {
		return err
	}
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return errors.New("credentials.username and credentials.password (or POCKET_USERNAME / POCKET_PASSWORD) are required")
	}
	ctx, cancel := withTimeout(cfg.Transport.RequestTimeout)
	defer cancel()
	user, auth, err := pocket.NewFromConfig(cfg).Authenticate(ctx, cfg.Credentials.Username, cfg.Credentials.Password)
	if err != nil {
		return err
	}
	cfg.Credentials.Token, cfg.Credentials.UserID = auth.Token, auth.ID
	cfg.Credentials.Password = ""
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Signed in as %s (%s)\n", user.Name, user.ID)
	return nil
}

func cmdRegister() error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	username := fs.String("username", "", "new username (defaults to credentials.username)")
	password := fs.String("password", "", "new password (defaults to credentials.password)")
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	if *username == "" {
		*username = cfg.Credentials.Username
	}
	if *password == "" {
		*password = cfg.Credentials.Password
	}
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}
	ctx, cancel := withTimeout(cfg.Transport.RequestTimeout)
	defer cancel()
	user, err := pocket.NewFromConfig(cfg).Register(ctx, *username, *password)
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s (%s)\n", user.Name, user.ID)
	return nil
}

func cmdWatch(ctx context.Context) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	mode := fs.String("mode", "", "realtime or polling (defaults to transport.mode)")
	readOnly := fs.Bool("readonly", false, "never write observed states back to the mirror")
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	if *mode != "" {
		cfg.Transport.Mode = *mode
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	metrics.StartServer(cfg.Metrics.Addr)

	db, err := journal.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	snapshot, err := db.LoadMessages(ctx)
	if err != nil {
		return err
	}

	policy := reconcile.RecordObserved
	if *readOnly {
		policy = reconcile.ReadOnly
	}
	engine := reconcile.New(reconcile.WithPolicy(policy))
	engine.Seed(snapshot...)
	detach := journal.NewRecorder(db).Attach(ctx, engine.Bus())
	defer detach()

	bus := engine.Bus()
	bus.OnReady(func() { fmt.Printf("ready (%s, %d messages known)\n", cfg.Transport.Mode, engine.Len()) })
	bus.OnCreated(func(m model.Message) { printMessage("+", m) })
	bus.OnReacted(func(m model.Message, added, removed model.Reactions) {
		if added.Empty() && removed.Empty() {
			return
		}
		fmt.Printf("~ %s +%d♥ -%d♥ +%d💩 -%d💩\n", m.ID,
			len(added.Hearts), len(removed.Hearts), len(added.Poops), len(removed.Poops))
	})

	api := pocket.NewFromConfig(cfg)
	c := client.New(model.Authorization{ID: cfg.Credentials.UserID, Token: cfg.Credentials.Token}, api, client.WithEngine(engine))
	if cfg.Transport.Mode == config.ModePolling {
		return c.ConnectPolling(ctx, poll.Config{Interval: cfg.Transport.PollInterval, Length: cfg.Transport.PollLength})
	}
	return c.ConnectRealtime(ctx, realtime.WithSessionHook(func(s realtime.Session) {
		if err := db.SaveCursor(ctx, "realtime:client_id", s.ClientID); err != nil {
			logging.Warn("cursor_save_failed", map[string]any{"error": err.Error()})
		}
	}))
}

func cmdSend() error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return errors.New("usage: pocketsync send [-config path] <text>")
	}
	api := pocket.NewFromConfig(cfg)
	ctx := context.Background()
	authCtx, cancel := withTimeout(cfg.Transport.RequestTimeout)
	auth, err := authorize(authCtx, cfg, api)
	cancel()
	if err != nil {
		return err
	}
	db, err := journal.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	err = engage.Guard(ctx, db, cfg.Engagement, "send", time.Now(), func() error {
		return client.New(auth, api).Send(ctx, text)
	})
	if err != nil {
		return err
	}
	fmt.Println("sent")
	return nil
}

func cmdReact(kind model.ReactionKind) error {
	fs := flag.NewFlagSet(string(kind), flag.ExitOnError)
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: pocketsync %s [-config path] <message-id>", strings.TrimSuffix(string(kind), "s"))
	}
	api := pocket.NewFromConfig(cfg)
	ctx, cancel := withTimeout(cfg.Transport.RequestTimeout)
	auth, err := authorize(ctx, cfg, api)
	if err != nil {
		cancel()
		return err
	}
	msg, err := api.RetrieveMessage(ctx, fs.Arg(0))
	cancel()
	if err != nil {
		return err
	}
	db, err := journal.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	c := client.New(auth, api)
	err = engage.Guard(context.Background(), db, cfg.Engagement, string(kind), time.Now(), func() error {
		if kind == model.Hearts {
			return c.Heart(context.Background(), msg)
		}
		return c.Poop(context.Background(), msg)
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", kind, msg.ID)
	return nil
}

func cmdHistory() error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	n := fs.Int("n", 20, "number of messages (1-500)")
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cfg.Transport.RequestTimeout)
	defer cancel()
	page, err := pocket.NewFromConfig(cfg).RetrieveMessages(ctx, 1, *n)
	if err != nil {
		return err
	}
	items := slices.Clone(page.Items)
	slices.Reverse(items)
	for _, m := range items {
		printMessage(m.ID, m)
	}
	fmt.Printf("%d of %d messages\n", len(items), page.TotalItems)
	return nil
}

func cmdUsers() error {
	fs := flag.NewFlagSet("users", flag.ExitOnError)
	page := fs.Int("page", 1, "page number")
	n := fs.Int("n", 50, "users per page (1-500)")
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cfg.Transport.RequestTimeout)
	defer cancel()
	users, err := pocket.NewFromConfig(cfg).RetrieveUsers(ctx, *page, *n)
	if err != nil {
		return err
	}
	for _, u := range users.Items {
		flags := ""
		if u.Status.Verified {
			flags += " verified"
		}
		if u.Status.Banned {
			flags += " banned"
		}
		fmt.Printf("%s %s%s\n", u.ID, u.Name, flags)
	}
	fmt.Printf("page %d/%d, %d users\n", users.Page, users.TotalPages, users.TotalItems)
	return nil
}

func cmdStats() error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	since := fs.Duration("since", 24*time.Hour, "window to aggregate")
	top := fs.Int("top", 5, "most hearted messages to show")
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	db, err := journal.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()
	now := time.Now().UTC()
	evs, err := db.LoadEventsRange(ctx, now.Add(-*since), now.Add(time.Second), "")
	if err != nil {
		return err
	}
	b := analytics.HourlyActivity(evs)
	for _, k := range analytics.SortedBucketKeys(b) {
		fmt.Printf("%s -> %v\n", k.Local().Format("Jan 02 15:00"), b[k])
	}
	msgs, err := db.LoadMessages(ctx)
	if err != nil {
		return err
	}
	for _, m := range analytics.MostReacted(msgs, model.Hearts, *top) {
		printMessage(m.ID, m)
	}
	return nil
}

func cmdBackfill() error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	perPage := fs.Int("n", 100, "messages per page (1-500)")
	pages := fs.Int("pages", 10, "maximum pages to fetch")
	cfg, _, err := setup(fs)
	if err != nil {
		return err
	}
	db, err := journal.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	n, err := jobs.Backfill(context.Background(), db, pocket.NewFromConfig(cfg), *perPage, *pages)
	if err != nil {
		return err
	}
	fmt.Printf("Backfilled %d messages\n", n)
	return nil
}
