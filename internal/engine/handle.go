package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

const (
	maxSnapshotElements = 80
	maxPageText         = 12000
)

type handle struct {
	sessionID string
	conn      *BrowserConn
	agent     *agent
	cfg       Config
}

func (h *handle) ContainerID() string { return h.conn.ContainerID }
func (h *handle) ConnectURL() string  { return h.conn.ConnectURL }

func (h *handle) Navigate(ctx context.Context, url string) error {
	_, err := h.conn.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   &h.cfg.NavTimeout,
	})
	if err != nil {
		return ErrAction.Msg(fmt.Sprintf("navigation to %s failed", url)).Err(err)
	}
	return ctx.Err()
}

// Act asks the agent to turn the instruction into one page command and
// executes it. A command the agent cannot fulfill is an ordinary
// unsuccessful result; only browser/model infrastructure failures return
// an error.
func (h *handle) Act(ctx context.Context, instruction string) (models.ActResult, error) {
	snap, err := h.snapshot()
	if err != nil {
		return models.ActResult{}, err
	}

	cmd, err := h.agent.plan(ctx, instruction, snap)
	if err != nil {
		return models.ActResult{}, err
	}

	switch cmd.Op {
	case opClick:
		if err := h.conn.Page.Click(cmd.Selector, playwright.PageClickOptions{Timeout: &h.cfg.ActTimeout}); err != nil {
			return models.ActResult{Success: false, Message: fmt.Sprintf("click on %q failed: %v", cmd.Selector, err)}, nil
		}
	case opFill:
		if err := h.conn.Page.Fill(cmd.Selector, cmd.Value, playwright.PageFillOptions{Timeout: &h.cfg.ActTimeout}); err != nil {
			return models.ActResult{Success: false, Message: fmt.Sprintf("fill on %q failed: %v", cmd.Selector, err)}, nil
		}
	case opPress:
		if err := h.conn.Page.Press(cmd.Selector, cmd.Value, playwright.PagePressOptions{Timeout: &h.cfg.ActTimeout}); err != nil {
			return models.ActResult{Success: false, Message: fmt.Sprintf("press on %q failed: %v", cmd.Selector, err)}, nil
		}
	case opNavigate:
		if err := h.Navigate(ctx, cmd.URL); err != nil {
			return models.ActResult{Success: false, Message: fmt.Sprintf("navigation failed: %v", err)}, nil
		}
	case opNone:
		return models.ActResult{Success: false, Message: cmd.Message}, nil
	default:
		return models.ActResult{Success: false, Message: fmt.Sprintf("agent returned unknown operation %q", cmd.Op)}, nil
	}

	msg := cmd.Message
	if msg == "" {
		msg = fmt.Sprintf("performed %s", cmd.Op)
	}
	return models.ActResult{Success: true, Message: msg}, nil
}

func (h *handle) Extract(ctx context.Context, instruction string, schema map[string]any) (map[string]any, error) {
	text, err := h.pageText()
	if err != nil {
		return nil, err
	}
	return h.agent.extract(ctx, instruction, schema, text)
}

// Close releases every browser resource behind the handle.
func (h *handle) Close(ctx context.Context) error {
	if h.conn.Stop == nil {
		return nil
	}
	if err := h.conn.Stop(); err != nil {
		return ErrAction.Msg("browser shutdown failed").Err(err)
	}
	return nil
}

// pageSnapshot is what the agent sees when planning a command.
type pageSnapshot struct {
	URL      string
	Title    string
	Elements []string
}

func (h *handle) snapshot() (*pageSnapshot, error) {
	page := h.conn.Page
	snap := &pageSnapshot{URL: page.URL()}

	title, err := page.Title()
	if err == nil {
		snap.Title = title
	}

	elements, err := page.QuerySelectorAll("a[href], button, input, select, textarea, [role=button]")
	if err != nil {
		return nil, ErrAction.Msg("unable to inspect page").Err(err)
	}
	for _, el := range elements {
		if len(snap.Elements) >= maxSnapshotElements {
			break
		}
		desc := describeElement(el)
		if desc != "" {
			snap.Elements = append(snap.Elements, desc)
		}
	}
	return snap, nil
}

func describeElement(el playwright.ElementHandle) string {
	tag, err := el.Evaluate("e => e.tagName.toLowerCase()")
	if err != nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<%v", tag)
	for _, attr := range []string{"id", "name", "type", "placeholder", "aria-label", "href"} {
		if v, err := el.GetAttribute(attr); err == nil && v != "" {
			if attr == "href" && len(v) > 80 {
				v = v[:80]
			}
			fmt.Fprintf(&b, " %s=%q", attr, v)
		}
	}
	b.WriteString(">")
	if text, err := el.TextContent(); err == nil {
		text = strings.Join(strings.Fields(text), " ")
		if len(text) > 60 {
			text = text[:60]
		}
		b.WriteString(text)
	}
	return b.String()
}

func (h *handle) pageText() (string, error) {
	body, err := h.conn.Page.QuerySelector("body")
	if err != nil || body == nil {
		return "", ErrAction.Msg("unable to read page content").Err(err)
	}
	text, err := body.TextContent()
	if err != nil {
		return "", ErrAction.Msg("unable to read page content").Err(err)
	}
	text = strings.TrimSpace(text)
	if len(text) > maxPageText {
		log.Debug().Int("length", len(text)).Msg("truncating page text for extraction")
		text = text[:maxPageText]
	}
	return text, nil
}
