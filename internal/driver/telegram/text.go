package telegram

import (
	"fmt"
	"unicode/utf16"

	"github.com/gotd/td/tg"

	"deskbridge/pkg/bridge"
)

// maxMessageUnits is the Telegram message length limit in UTF-16 code units.
const maxMessageUnits = 4096

// wireText is one Telegram-ready message body.
type wireText struct {
	body      string
	entities  []tg.MessageEntityClass
	noWebpage bool
}

// splitWireText converts neutral text and code point entities into one or more
// Telegram message bodies, each within limit UTF-16 units.
//
// Cuts prefer the last line break inside the window. Entities crossing a cut
// are clipped to each side.
func splitWireText(text string, entities []bridge.TextEntity, noWebpage bool, limit int) ([]wireText, error) {
	if limit <= 0 {
		limit = maxMessageUnits
	}

	runes := []rune(text)
	units := make([]int, len(runes)+1)
	for index, value := range runes {
		units[index+1] = units[index] + utf16.RuneLen(value)
	}
	for index, entity := range entities {
		end := entity.Offset + entity.Length
		if entity.Offset < 0 || entity.Length < 0 || end > len(runes) {
			return nil, fmt.Errorf(
				"%w: entity[%d] range [%d,%d) outside text of %d runes",
				bridge.ErrInvalidOutboundRequest,
				index,
				entity.Offset,
				end,
				len(runes),
			)
		}
	}

	var parts []wireText
	for start := 0; start < len(runes) || len(parts) == 0; {
		end := start
		for end < len(runes) && units[end+1]-units[start] <= limit {
			end++
		}
		if end < len(runes) {
			for cut := end; cut > start+1; cut-- {
				if runes[cut-1] == '\n' {
					end = cut
					break
				}
			}
		}
		if end == start && end < len(runes) {
			end++
		}

		part := wireText{body: string(runes[start:end]), noWebpage: noWebpage}
		for _, entity := range entities {
			from := max(entity.Offset, start)
			to := min(entity.Offset+entity.Length, end)
			if from >= to {
				continue
			}
			converted, err := toTelegramEntity(entity, units[from]-units[start], units[to]-units[from])
			if err != nil {
				return nil, err
			}
			part.entities = append(part.entities, converted)
		}
		parts = append(parts, part)

		if end >= len(runes) {
			break
		}
		start = end
	}

	return parts, nil
}

func toTelegramEntity(entity bridge.TextEntity, offset int, length int) (tg.MessageEntityClass, error) {
	switch entity.Type {
	case bridge.TextEntityTypeBold:
		return &tg.MessageEntityBold{Offset: offset, Length: length}, nil
	case bridge.TextEntityTypeItalic:
		return &tg.MessageEntityItalic{Offset: offset, Length: length}, nil
	case bridge.TextEntityTypeCode:
		return &tg.MessageEntityCode{Offset: offset, Length: length}, nil
	case bridge.TextEntityTypePre:
		return &tg.MessageEntityPre{Offset: offset, Length: length, Language: entity.Language}, nil
	case bridge.TextEntityTypeTextURL:
		return &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: entity.URL}, nil
	case bridge.TextEntityTypeURL:
		return &tg.MessageEntityURL{Offset: offset, Length: length}, nil
	case bridge.TextEntityTypeMention:
		return &tg.MessageEntityMention{Offset: offset, Length: length}, nil
	case bridge.TextEntityTypeBotCommand:
		return &tg.MessageEntityBotCommand{Offset: offset, Length: length}, nil
	default:
		return nil, fmt.Errorf("%w: text entity type %q", bridge.ErrOutboundUnsupported, entity.Type)
	}
}
