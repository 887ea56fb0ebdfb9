// Package telegram implements a destinations.Connector for Telegram chats.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/racewatch/racewatch/internal/destinations"
	"github.com/racewatch/racewatch/internal/models"
)

// Connector posts race announcements to Telegram chats.
type Connector struct {
	name string
	bot  *tgbotapi.BotAPI
}

// New creates a connector authenticated with the given bot token.
func New(name, token string) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = false
	return &Connector{name: name, bot: bot}, nil
}

// messageRef is the serialized form of a posted Telegram message.
type messageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// EncodeRef serializes a chat/message pair into a MessageRef.
func EncodeRef(chatID int64, messageID int) (destinations.MessageRef, error) {
	data, err := json.Marshal(messageRef{ChatID: chatID, MessageID: messageID})
	if err != nil {
		return "", err
	}
	return destinations.MessageRef(data), nil
}

// DecodeRef parses a MessageRef produced by this connector.
func DecodeRef(ref destinations.MessageRef) (chatID int64, messageID int, err error) {
	var parsed messageRef
	if err := json.Unmarshal([]byte(ref), &parsed); err != nil {
		return 0, 0, fmt.Errorf("invalid telegram message reference: %w", err)
	}
	return parsed.ChatID, parsed.MessageID, nil
}

// Name implements destinations.Connector.
func (c *Connector) Name() string {
	return c.name
}

// FindChannel implements destinations.Connector. The identifier is the
// numeric Telegram chat ID.
func (c *Connector) FindChannel(_ context.Context, identifier string) (*models.Channel, error) {
	chatID, err := strconv.ParseInt(identifier, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", identifier, err)
	}

	chat, err := c.bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		if isNotFoundErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up chat %d: %w", chatID, err)
	}

	return &models.Channel{
		Connector:  c.name,
		Identifier: identifier,
		Name:       chat.Title,
		Active:     true,
	}, nil
}

// BotHasRequiredPermissions implements destinations.Connector. The bot
// needs to be a member of the chat and allowed to send messages.
func (c *Connector) BotHasRequiredPermissions(_ context.Context, channel *models.Channel) bool {
	chatID, err := strconv.ParseInt(channel.Identifier, 10, 64)
	if err != nil {
		return false
	}

	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: c.bot.Self.ID,
		},
	})
	if err != nil {
		return false
	}

	switch member.Status {
	case "creator", "administrator":
		return true
	case "member":
		return member.CanSendMessages || member.CanPostMessages
	default:
		return false
	}
}

// PostRaceMessage implements destinations.Connector.
func (c *Connector) PostRaceMessage(
	_ context.Context, channel *models.Channel, race *models.Race, entrants []*models.Entrant,
) (destinations.MessageRef, error) {
	chatID, err := strconv.ParseInt(channel.Identifier, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", channel.Identifier, err)
	}

	msg := tgbotapi.NewMessage(chatID, renderRace(race, entrants))
	msg.DisableWebPagePreview = true

	sent, err := c.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to post race message: %w", err)
	}
	return EncodeRef(chatID, sent.MessageID)
}

// UpdateRaceMessage implements destinations.Connector.
func (c *Connector) UpdateRaceMessage(
	_ context.Context, previous destinations.MessageRef, race *models.Race, entrants []*models.Entrant,
) (destinations.MessageRef, error) {
	chatID, messageID, err := DecodeRef(previous)
	if err != nil {
		return "", err
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, renderRace(race, entrants))
	edit.DisableWebPagePreview = true

	if _, err := c.bot.Send(edit); err != nil {
		// Telegram rejects edits whose text is identical to the current
		// message; treat that as already up to date.
		if strings.Contains(err.Error(), "message is not modified") {
			return previous, nil
		}
		return "", fmt.Errorf("failed to update race message: %w", err)
	}
	return previous, nil
}

// renderRace produces the plain-text body of an announcement. Anything
// fancier belongs to a templating layer outside this connector.
func renderRace(race *models.Race, entrants []*models.Entrant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Race: %s\n", race.Goal)
	fmt.Fprintf(&b, "Status: %s\n", race.Status)
	fmt.Fprintf(&b, "Entrants: %d\n", len(entrants))
	if race.URL != "" {
		fmt.Fprintf(&b, "%s\n", race.URL)
	}
	return b.String()
}

func isNotFoundErr(err error) bool {
	return strings.Contains(err.Error(), "chat not found")
}
