package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"coachbook/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// TelegramProvisioner hands out one invite link into the coaching chat per
// provider/client pair.
type TelegramProvisioner struct {
	bot         domain.TelegramRequester
	chatID      int64
	memberLimit int
	logger      zerolog.Logger

	// creates collapses concurrent requests for the same pair; other pairs
	// proceed independently
	creates singleflight.Group

	mu    sync.RWMutex
	links map[pair]string
}

type pair struct {
	providerID int64
	clientID   int64
}

func NewTelegramProvisioner(bot domain.TelegramRequester, chatID int64, memberLimit int, logger *zerolog.Logger) *TelegramProvisioner {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_chat").Logger()
	}
	return &TelegramProvisioner{
		bot:         bot,
		chatID:      chatID,
		memberLimit: memberLimit,
		logger:      l,
		links:       make(map[pair]string),
	}
}

// EnsureChannel returns the invite link for the pair, creating it on first use.
func (p *TelegramProvisioner) EnsureChannel(ctx context.Context, providerID, clientID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := pair{providerID: providerID, clientID: clientID}
	if link, ok := p.cached(key); ok {
		return link, nil
	}

	v, err, _ := p.creates.Do(fmt.Sprintf("%d:%d", providerID, clientID), func() (interface{}, error) {
		if link, ok := p.cached(key); ok {
			return link, nil
		}
		link, err := p.createLink(providerID, clientID)
		if err != nil {
			return "", err
		}

		p.mu.Lock()
		p.links[key] = link
		p.mu.Unlock()
		p.logger.Debug().Int64("provider_id", providerID).Int64("client_id", clientID).Msg("invite link created")
		return link, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *TelegramProvisioner) cached(key pair) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	link, ok := p.links[key]
	return link, ok
}

func (p *TelegramProvisioner) createLink(providerID, clientID int64) (string, error) {
	cfg := tgbotapi.CreateChatInviteLinkConfig{
		ChatConfig:  tgbotapi.ChatConfig{ChatID: p.chatID},
		Name:        fmt.Sprintf("provider %d / client %d", providerID, clientID),
		MemberLimit: p.memberLimit,
	}
	resp, err := p.bot.Request(cfg)
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}
	if resp == nil || !resp.Ok {
		return "", errors.New("create invite link: telegram rejected the request")
	}

	var invite tgbotapi.ChatInviteLink
	if err := json.Unmarshal(resp.Result, &invite); err != nil {
		return "", fmt.Errorf("decode invite link: %w", err)
	}
	if invite.InviteLink == "" {
		return "", errors.New("decode invite link: empty link")
	}
	return invite.InviteLink, nil
}
