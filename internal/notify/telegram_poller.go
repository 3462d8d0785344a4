package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ApprovalResolver delivers an operator decision for the symbol's pending
// prompt. It reports false when no live prompt exists (expired or already
// resolved).
type ApprovalResolver func(symbol string, approved bool) bool

// TelegramPoller long-polls the Telegram getUpdates API for /approve and
// /reject commands and forwards them to the resolver. Only messages from the
// configured chat are honoured.
type TelegramPoller struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	resolve ApprovalResolver
	logger  *slog.Logger

	offset int64
}

// NewTelegramPoller creates a poller for the given bot token and chat ID.
func NewTelegramPoller(token, chatID string, resolve ApprovalResolver, logger *slog.Logger) *TelegramPoller {
	return &TelegramPoller{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 35 * time.Second},
		resolve: resolve,
		logger:  logger.With(slog.String("component", "telegram_poller")),
	}
}

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type tgUpdatesResponse struct {
	OK     bool       `json:"ok"`
	Result []tgUpdate `json:"result"`
}

// Run polls until ctx is cancelled. Transient API errors are logged and
// retried after a short pause.
func (p *TelegramPoller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		updates, err := p.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "poll failed",
				slog.String("error", err.Error()))

			timer := time.NewTimer(5 * time.Second)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.handleUpdate(ctx, u)
		}
	}
}

func (p *TelegramPoller) fetchUpdates(ctx context.Context) ([]tgUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=25&offset=%d", p.baseURL, p.token, p.offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: get updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tgUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram: getUpdates returned ok=false")
	}
	return parsed.Result, nil
}

func (p *TelegramPoller) handleUpdate(ctx context.Context, u tgUpdate) {
	if u.Message == nil {
		return
	}
	if fmt.Sprintf("%d", u.Message.Chat.ID) != p.chatID {
		return
	}

	symbol, approved, ok := parseApprovalCommand(u.Message.Text)
	if !ok {
		return
	}

	resolved := p.resolve(symbol, approved)
	p.logger.InfoContext(ctx, "approval command",
		slog.String("symbol", symbol),
		slog.Bool("approved", approved),
		slog.Bool("resolved", resolved),
	)
}

// parseApprovalCommand extracts the decision from "/approve SYMBOL" or
// "/reject SYMBOL". The symbol is upper-cased; a bare command without a
// symbol is ignored.
func parseApprovalCommand(text string) (symbol string, approved bool, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) != 2 {
		return "", false, false
	}

	// Commands in groups may carry a bot suffix, e.g. "/approve@mybot".
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch strings.ToLower(cmd) {
	case "/approve":
		return strings.ToUpper(fields[1]), true, true
	case "/reject":
		return strings.ToUpper(fields[1]), false, true
	default:
		return "", false, false
	}
}
