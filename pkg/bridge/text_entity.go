package bridge

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextEntityType identifies one rich text formatting class.
type TextEntityType string

const (
	// TextEntityTypeBold marks bold text.
	TextEntityTypeBold TextEntityType = "bold"
	// TextEntityTypeItalic marks italic text.
	TextEntityTypeItalic TextEntityType = "italic"
	// TextEntityTypeCode marks inline monospace text.
	TextEntityTypeCode TextEntityType = "code"
	// TextEntityTypePre marks a preformatted block.
	TextEntityTypePre TextEntityType = "pre"
	// TextEntityTypeTextURL marks text linked to URL.
	TextEntityTypeTextURL TextEntityType = "text_url"
	// TextEntityTypeURL marks a bare URL.
	TextEntityTypeURL TextEntityType = "url"
	// TextEntityTypeMention marks an @username mention.
	TextEntityTypeMention TextEntityType = "mention"
	// TextEntityTypeBotCommand marks a /command token.
	TextEntityTypeBotCommand TextEntityType = "bot_command"
)

// TextEntity marks one formatted range of a message text.
//
// Offset and Length count Unicode code points; drivers convert to platform units.
type TextEntity struct {
	Type   TextEntityType
	Offset int
	Length int
	// URL is required for text_url entities.
	URL string
	// Language optionally tags pre blocks.
	Language string
}

// ValidateTextEntities checks that every entity is known and fits inside text.
func ValidateTextEntities(text string, entities []TextEntity) error {
	if len(entities) == 0 {
		return nil
	}

	runeCount := utf8.RuneCountInString(text)
	for index, entity := range entities {
		switch entity.Type {
		case TextEntityTypeBold, TextEntityTypeItalic, TextEntityTypeCode, TextEntityTypePre,
			TextEntityTypeURL, TextEntityTypeMention, TextEntityTypeBotCommand:
		case TextEntityTypeTextURL:
			if strings.TrimSpace(entity.URL) == "" {
				return fmt.Errorf("validate text entity[%d]: text_url requires url", index)
			}
		case "":
			return fmt.Errorf("validate text entity[%d]: missing type", index)
		default:
			return fmt.Errorf("validate text entity[%d]: unsupported type %q", index, entity.Type)
		}
		if entity.Offset < 0 || entity.Length <= 0 {
			return fmt.Errorf(
				"validate text entity[%d]: invalid range offset=%d length=%d",
				index,
				entity.Offset,
				entity.Length,
			)
		}
		if entity.Offset+entity.Length > runeCount {
			return fmt.Errorf(
				"validate text entity[%d]: range [%d,%d) exceeds text length %d",
				index,
				entity.Offset,
				entity.Offset+entity.Length,
				runeCount,
			)
		}
	}

	return nil
}

// TextBuilder assembles message text together with its entities.
//
// The zero value is ready to use.
type TextBuilder struct {
	text     strings.Builder
	runes    int
	entities []TextEntity
}

// Plain appends unformatted text.
func (b *TextBuilder) Plain(value string) *TextBuilder {
	b.text.WriteString(value)
	b.runes += utf8.RuneCountInString(value)

	return b
}

// Styled appends value covered by one entity of the given type.
func (b *TextBuilder) Styled(entityType TextEntityType, value string) *TextBuilder {
	return b.appendEntity(TextEntity{Type: entityType}, value)
}

// Bold appends bold text.
func (b *TextBuilder) Bold(value string) *TextBuilder {
	return b.Styled(TextEntityTypeBold, value)
}

// Italic appends italic text.
func (b *TextBuilder) Italic(value string) *TextBuilder {
	return b.Styled(TextEntityTypeItalic, value)
}

// Code appends inline monospace text.
func (b *TextBuilder) Code(value string) *TextBuilder {
	return b.Styled(TextEntityTypeCode, value)
}

// Link appends value linked to url. An empty url degrades to plain text.
func (b *TextBuilder) Link(value string, url string) *TextBuilder {
	if strings.TrimSpace(url) == "" {
		return b.Plain(value)
	}

	return b.appendEntity(TextEntity{Type: TextEntityTypeTextURL, URL: url}, value)
}

// Line terminates the current line.
func (b *TextBuilder) Line() *TextBuilder {
	return b.Plain("\n")
}

// Reply returns the built text and entities as one outbound reply.
func (b *TextBuilder) Reply() Reply {
	return Reply{
		Text:     b.String(),
		Entities: append([]TextEntity(nil), b.entities...),
	}
}

// String returns the built text without entities.
func (b *TextBuilder) String() string {
	return b.text.String()
}

func (b *TextBuilder) appendEntity(entity TextEntity, value string) *TextBuilder {
	length := utf8.RuneCountInString(value)
	if length == 0 {
		return b
	}
	entity.Offset = b.runes
	entity.Length = length
	b.entities = append(b.entities, entity)

	return b.Plain(value)
}
