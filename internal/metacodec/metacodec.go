// Package metacodec embeds provenance metadata into tracker text bodies
// and recovers it again.
//
// A tagged body looks like:
//
//	<!--meta:{"from":[...],"type":"original"}-->
//	**From:** [Jane](mailto:jane@example.com)
//	---
//	<caller body>
//
// The block must open the body. Bodies without it are foreign: they were
// written directly in the tracker UI rather than by this system, even
// when they quote a tagged body further down.
package metacodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nhle/mail2issue/internal/model"
)

const (
	openTag   = "<!--meta:"
	closeTag  = "-->"
	fromLabel = "**From:** "
	separator = "---"
)

var (
	// ErrMetaMissing is returned when a body carries no metadata block.
	ErrMetaMissing = errors.New("metadata block missing")

	// ErrMetaEmpty is returned when the metadata block has no payload.
	ErrMetaEmpty = errors.New("metadata block empty")

	// ErrNoSender is returned when encoding metadata without a sender.
	ErrNoSender = errors.New("metadata has no sender")
)

// Decoded is the result of DecodeOrForeign.
type Decoded struct {
	Meta    model.Meta
	Body    string
	Foreign bool
}

// Encode prefixes body with the metadata block and the rendered From line.
func Encode(body string, meta model.Meta) (string, error) {
	if len(meta.From) == 0 {
		return "", ErrNoSender
	}
	if meta.Type == "" {
		meta.Type = model.KindUnknown
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling metadata: %w", err)
	}

	var b strings.Builder
	b.WriteString(openTag)
	b.Write(payload)
	b.WriteString(closeTag)
	b.WriteString("\n")
	b.WriteString(FromLine(meta.From))
	b.WriteString("\n")
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(body)
	return b.String(), nil
}

// Decode extracts the metadata block from tagged and returns the
// original caller body.
func Decode(tagged string) (model.Meta, string, error) {
	rest, end, ok := locate(tagged)
	if !ok {
		return model.Meta{}, "", ErrMetaMissing
	}

	raw := strings.TrimSpace(rest[:end])
	if raw == "" || raw == "{}" || raw == "null" {
		return model.Meta{}, "", ErrMetaEmpty
	}

	var meta model.Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return model.Meta{}, "", fmt.Errorf("parsing metadata: %w", err)
	}
	if meta.Type == "" {
		meta.Type = model.KindUnknown
	}

	body := stripHeader(rest[end+len(closeTag):])
	return meta, body, nil
}

// Tagged reports whether body starts with a metadata block.
func Tagged(body string) bool {
	_, _, ok := locate(body)
	return ok
}

// locate finds the metadata block at the start of body, after leading
// whitespace. rest is the text after the open tag and end the offset of
// the close tag within it.
func locate(body string) (rest string, end int, ok bool) {
	trimmed := strings.TrimLeftFunc(body, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, openTag) {
		return "", 0, false
	}
	rest = trimmed[len(openTag):]
	end = strings.Index(rest, closeTag)
	if end < 0 {
		return "", 0, false
	}
	return rest, end, true
}

// DecodeOrForeign decodes tagged bodies and degrades foreign ones to a
// record attributed to author with KindUnknown.
func DecodeOrForeign(body string, author model.Contact) (Decoded, error) {
	meta, stripped, err := Decode(body)
	if errors.Is(err, ErrMetaMissing) {
		return Decoded{
			Meta: model.Meta{
				From: []model.Contact{author},
				Type: model.KindUnknown,
			},
			Body:    body,
			Foreign: true,
		}, nil
	}
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Meta: meta, Body: stripped}, nil
}

// FromLine renders the human readable sender line.
func FromLine(from []model.Contact) string {
	links := make([]string, 0, len(from))
	for _, c := range from {
		links = append(links, fmt.Sprintf(
			"[%s](mailto:%s)",
			singleLine(c.DisplayName()), singleLine(c.Address),
		))
	}
	return fromLabel + strings.Join(links, ", ")
}

// stripHeader removes the generated From line and separator that follow
// the closing delimiter.
func stripHeader(s string) string {
	s = strings.TrimPrefix(s, "\n")
	if strings.HasPrefix(s, fromLabel) {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		} else {
			return ""
		}
	}
	if strings.HasPrefix(s, separator+"\n") {
		return s[len(separator)+1:]
	}
	if s == separator {
		return ""
	}
	return s
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func singleLine(s string) string {
	return lineBreaks.Replace(s)
}
