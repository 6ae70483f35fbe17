// Package bot wires the link protection services to Telegram commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/linkguard/core/config"
	"github.com/m3rciful/linkguard/core/logger"
	tg "github.com/m3rciful/linkguard/core/telegram"
	"github.com/m3rciful/linkguard/core/telegram/commands"
	tghelpers "github.com/m3rciful/linkguard/core/telegram/helpers"
	"github.com/m3rciful/linkguard/core/telegram/middleware"
	"github.com/m3rciful/linkguard/core/telegram/router"
	tgsender "github.com/m3rciful/linkguard/core/telegram/sender"
	"github.com/m3rciful/linkguard/internal/access"
	"github.com/m3rciful/linkguard/internal/broadcast"
	"github.com/m3rciful/linkguard/internal/geo"
	"github.com/m3rciful/linkguard/internal/kvstore"
	"github.com/m3rciful/linkguard/internal/links"
	"github.com/m3rciful/linkguard/internal/session"
	"github.com/m3rciful/linkguard/internal/webverify"
)

// verifyPerAddress caps verification page hits per client address per
// minute.
const verifyPerAddress = 30

// Editor edits messages the bot sent earlier. *tele.Bot implements it.
type Editor interface {
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// App holds the services behind the bot commands.
type App struct {
	cfg *coreconfig.Config

	links    *links.Registry
	access   *access.Machine
	gate     *geo.Gate
	sessions *session.Manager
	audience *broadcast.Audience

	// Set in OnStart once the bot is connected.
	botUsername string
	broadcasts  *broadcast.Manager
	editor      Editor

	pendingMu sync.Mutex
	pending   map[int64]broadcast.Message

	webDone chan struct{}
}

// New builds the App on top of store.
func New(cfg *coreconfig.Config, store kvstore.Store) (*App, error) {
	return NewWithProvider(cfg, store, geo.NewIPAPI(cfg.Geo.ProviderURL, cfg.Geo.Timeout))
}

// NewWithProvider is New with an explicit geolocation provider.
func NewWithProvider(cfg *coreconfig.Config, store kvstore.Store, provider geo.Provider) (*App, error) {
	reg := links.NewRegistry(store)
	if cfg.Verification.TTL > 0 {
		reg.VerificationTTL = cfg.Verification.TTL
	}
	machine := access.NewMachine(store)
	gate, err := geo.NewGate(provider, machine, geo.Options{
		Allowed:   cfg.Geo.AllowedCountries,
		Timeout:   cfg.Geo.Timeout,
		CacheSize: cfg.Geo.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:      cfg,
		links:    reg,
		access:   machine,
		gate:     gate,
		sessions: session.NewManager(session.DefaultTTL),
		audience: broadcast.NewAudience(store),
		pending:  make(map[int64]broadcast.Message),
	}, nil
}

// TelegramRunOptions implements the runner's TelegramApp.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	a.registerCommands(reg)
	if err := a.registerCallbacks(reg); err != nil {
		return tg.RunOptions{}, err
	}
	reg.SetTextFallback(a.handleHelp)

	cmdOpts := router.CommandRouteOptions{AdminID: a.cfg.Telegram.AdminID, Gate: a.gateOptions()}
	routes := router.CommandRoutes(reg, cmdOpts)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.TextRoutes(a, reg, router.TextOptions{
		Commands:     cmdOpts,
		UnknownPhoto: a.gated(a.handleUnexpectedPhoto),
	})...)

	return tg.RunOptions{
		Config:      a.cfg,
		Registry:    reg,
		Middlewares: tg.DefaultMiddlewares(a.cfg, a.handleRateLimited, tg.Middleware{Name: "audience", Use: a.trackAudience}),
		Routes:      routes,
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) registerCommands(reg *tg.Registry) {
	reg.RegisterCommand("/start", commands.Command{Handler: a.handleStart, Description: "Start the bot"})
	reg.RegisterCommand("/protect", commands.Command{Handler: a.handleProtect, Description: "Generate a protected link", Gated: true, Aliases: []string{"/gdv"}})
	reg.RegisterCommand("/post", commands.Command{Handler: a.handlePost, Description: "Build a post with a protected link", Gated: true})
	reg.RegisterCommand("/cancel", commands.Command{Handler: a.handleCancel, Description: "Cancel the current post", Hidden: true})
	reg.RegisterCommand("/channels", commands.Command{Handler: a.handleChannels, Description: "Channel directory", Gated: true})
	reg.RegisterCommand("/geo", commands.Command{Handler: a.handleGeo, Description: "Show the geo lookup of the bot connection", Gated: true, Aliases: []string{"/myip"}})

	reg.RegisterCommand("/broadcast", commands.Command{Handler: a.handleBroadcast, Description: "Broadcast a message", AdminOnly: true})
	reg.RegisterCommand("/stopbroadcast", commands.Command{Handler: a.handleStopBroadcast, Description: "Stop the running broadcast", AdminOnly: true})
	reg.RegisterCommand("/ban", commands.Command{Handler: a.handleBan, Description: "Ban a user", AdminOnly: true})
	reg.RegisterCommand("/unban", commands.Command{Handler: a.handleUnban, Description: "Unban a user", AdminOnly: true})
	reg.RegisterCommand("/stats", commands.Command{Handler: a.handleStats, Description: "Bot statistics", AdminOnly: true, Aliases: []string{"/ipstats"}})
}

func (a *App) registerCallbacks(reg *tg.Registry) error {
	admin := middleware.AdminOnlyMiddleware(middleware.AdminOptions{AdminID: a.cfg.Telegram.AdminID})
	for key, h := range map[string]tele.HandlerFunc{
		cbAddImage:         a.gated(a.handleAddImage),
		cbNoImage:          a.gated(a.handleNoImage),
		cbChannel:          a.gated(a.handleChannel),
		cbBack:             a.gated(a.handleBack),
		cbBroadcastConfirm: admin(a.handleBroadcastConfirm),
		cbBroadcastCancel:  admin(a.handleBroadcastCancel),
		cbBroadcastStop:    admin(a.handleBroadcastStop),
	} {
		if err := reg.RegisterCallback(key, h); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) gateOptions() middleware.GateOptions {
	return middleware.GateOptions{
		Checker:      checkerFunc(a.verdict),
		OnUnverified: a.promptVerification,
		OnDenied:     a.replyDenied,
	}
}

func (a *App) gated(h tele.HandlerFunc) tele.HandlerFunc {
	return middleware.AccessMiddleware(a.gateOptions())(h)
}

type checkerFunc func(ctx context.Context, userID int64) (access.Verdict, error)

func (f checkerFunc) Check(ctx context.Context, userID int64) (access.Verdict, error) {
	return f(ctx, userID)
}

// webEnabled reports whether users verify through the web page. Without it
// the bot decides inline.
func (a *App) webEnabled() bool {
	return a.cfg.Verification.Listen != "" && a.cfg.Verification.PublicURL != ""
}

// verdict returns the stored verdict of userID. Without the web step an
// unverified user is decided inline.
func (a *App) verdict(ctx context.Context, userID int64) (access.Verdict, error) {
	v, err := a.access.Check(ctx, userID)
	if err != nil || v != access.Unverified || a.webEnabled() {
		return v, err
	}
	return a.gate.Decide(ctx, userID, "")
}

func (a *App) onStart(ctx context.Context, rt tg.Runtime) error {
	if rt.Bot != nil {
		a.botUsername = rt.Bot.Me.Username
		a.editor = rt.Bot
		a.broadcasts = broadcast.NewManager(
			tgsender.New(rt.Bot, tgsender.Options{ParseMode: tele.ModeMarkdown}),
			a.audience,
			broadcast.Options{Delay: a.cfg.Broadcast.Delay, ProgressEvery: a.cfg.Broadcast.ProgressEvery},
		)
	}

	if a.webEnabled() {
		srv := webverify.New(webverify.Options{
			BotUsername: a.botUsername,
			TrustProxy:  a.cfg.Verification.TrustProxy,
			PerAddress:  verifyPerAddress,
		}, a.links, a.access, a.gate)
		a.webDone = make(chan struct{})
		go func() {
			defer close(a.webDone)
			if err := srv.Run(ctx, a.cfg.Verification.Listen); err != nil {
				logger.Error(ctx, logger.CompWeb, "http.run", slog.String("err", err.Error()))
			}
		}()
	}

	logger.Info(ctx, logger.CompApp, "bot.start",
		slog.String("bot", a.botUsername),
		slog.Bool("web_verify", a.webEnabled()),
		slog.Any("allowed_countries", a.cfg.Geo.AllowedCountries),
	)
	return nil
}

func (a *App) onStop(ctx context.Context, _ tg.Runtime) error {
	if a.broadcasts != nil && a.broadcasts.Cancel() {
		logger.Info(ctx, logger.CompBroadcast, "broadcast.cancel", slog.String("reason", "shutdown"))
	}
	if a.webDone != nil {
		<-a.webDone
	}
	return nil
}

func (a *App) trackAudience(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if id := tghelpers.SenderID(c); id != 0 {
			if err := a.audience.Add(tghelpers.BuildContext(c), id); err != nil {
				logger.Warn(tghelpers.BuildContext(c), logger.CompBroadcast, "audience.add", slog.String("err", err.Error()))
			}
		}
		return next(c)
	}
}

// shareLink returns the deep link that opens the bot with payload.
func (a *App) shareLink(payload string) string {
	return webverify.DeepLink(a.botUsername, payload)
}

// joinURL points the join web app at destination.
func (a *App) joinURL(destination string) string {
	u, err := url.Parse(a.cfg.Links.RedirectPage)
	if err != nil {
		return a.cfg.Links.RedirectPage
	}
	q := u.Query()
	q.Set("url", destination)
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *App) allowedCountries() string {
	return strings.Join(a.cfg.Geo.AllowedCountries, ", ")
}

func (a *App) replyFailed(c tele.Context, event string, err error) error {
	logger.Error(tghelpers.BuildContext(c), logger.CompTG, event, slog.String("err", err.Error()))
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: failedText, ShowAlert: true})
	}
	return tghelpers.SendText(c, failedText)
}

func (a *App) handleRateLimited(c tele.Context) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: rateLimitedText})
	}
	return tghelpers.SendText(c, rateLimitedText)
}

func (a *App) handleHelp(c tele.Context) error {
	return tghelpers.SendMD(c, helpText)
}

func mention(u *tele.User) string {
	if u == nil {
		return "there"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = fmt.Sprint(u.ID)
	}
	return name
}
