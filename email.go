package microauth

import (
	"context"
	"log/slog"
)

// LinkSender delivers a unique-url login link to an email address.
type LinkSender interface {
	SendLoginLink(ctx context.Context, to, link string) error
}

// ConsoleLinkSender logs login links instead of sending them. Use it in
// development.
type ConsoleLinkSender struct {
	Logger *slog.Logger
}

func (c *ConsoleLinkSender) SendLoginLink(ctx context.Context, to, link string) error {
	orDefaultLogger(c.Logger).InfoContext(ctx, "EMAIL: Login link",
		"to", to,
		"subject", "Your login link",
		"link", link)
	return nil
}
