// Package irc is the chat front end: it connects to the configured network,
// listens for trigger commands and forwards style transfer requests to the
// scheduler.
package irc

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"stylebird/imagestore"
	"stylebird/logger"
	"stylebird/scheduler"
	"stylebird/settings"

	"github.com/lrstanley/girc"
)

// reconnectDelay between connection attempts once the server drops us.
const reconnectDelay = 30 * time.Second

// NewClient builds the girc client with the join-on-connect handler wired.
// The PRIVMSG handler is attached by NewBot once the scheduler exists.
func NewClient(cfg settings.IrcConfig) *girc.Client {
	ircConfig := girc.Config{
		Server:     cfg.Server,
		Port:       cfg.Port,
		Nick:       cfg.Nick,
		User:       cfg.User,
		Name:       cfg.Nick,
		SSL:        cfg.Ssl,
		ServerPass: cfg.Pass,
	}
	if ircConfig.User == "" {
		ircConfig.User = cfg.Nick
	}
	if cfg.Ssl {
		ircConfig.TLSConfig = &tls.Config{ServerName: cfg.Server}
	}

	client := girc.New(ircConfig)
	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		logger.Info("Connected to IRC", "server", cfg.Server, "nick", cfg.Nick)
		for _, channel := range cfg.Channels {
			c.Cmd.Join(channel)
		}
	})
	return client
}

// Bot routes trigger commands from channels to the scheduler.
type Bot struct {
	cfg      *settings.Config
	client   *girc.Client
	sched    *scheduler.Scheduler
	store    *imagestore.Store
	notifier *Notifier
}

func NewBot(cfg *settings.Config, client *girc.Client, sched *scheduler.Scheduler, store *imagestore.Store, notifier *Notifier) *Bot {
	b := &Bot{
		cfg:      cfg,
		client:   client,
		sched:    sched,
		store:    store,
		notifier: notifier,
	}
	client.Handlers.Add(girc.PRIVMSG, b.onPrivmsg)
	return b
}

// Run connects and keeps reconnecting until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	for {
		err := b.client.Connect()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("Lost connection to IRC", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
		logger.Info("Reconnecting to IRC", "server", b.cfg.Irc.Server)
	}
}

// Close disconnects from the network.
func (b *Bot) Close() {
	b.client.Close()
}

func (b *Bot) onPrivmsg(c *girc.Client, e girc.Event) {
	if e.Source == nil || e.Source.Name == c.GetNick() {
		return
	}

	message := e.Last()
	cmd, ok := parseCommand(b.cfg.Irc.Trigger, message)
	if !ok {
		return
	}

	nick := e.Source.Name
	target := e.Params[0]
	if !e.IsFromChannel() {
		target = nick
	}
	b.notifier.SetTarget(nick, target)

	logger.Info("Command received", "nick", nick, "target", target, "action", cmd.action)

	switch cmd.action {
	case "transfer":
		// Downloads block on remote servers, keep them off the read loop.
		go b.handleTransfer(nick, cmd)
	case "cancel":
		b.handleCancel(nick)
	case "queue":
		b.handleQueue(nick)
	case "settings":
		b.handleSettings(nick, cmd)
	case "help":
		b.handleHelp(nick)
	}
}

func (b *Bot) reply(nick, text string) {
	if err := b.notifier.Send(nick, text); err != nil {
		logger.Error("Failed to send reply", "nick", nick, "error", err)
	}
}

func trimQuotes(value string) string {
	if len(value) >= 2 {
		if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
			return value[1 : len(value)-1]
		}
	}
	return value
}
