package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mail2issue/internal/model"
)

// ParseMessage parses a raw RFC 5322 message using go-message and maps
// it to an InboundMessage. The text/plain part is preferred; an HTML-only
// message is reduced to plain text.
func ParseMessage(uid uint32, raw []byte) (model.InboundMessage, error) {
	msg := model.InboundMessage{UID: uid}
	if len(raw) == 0 {
		return msg, errors.New("empty message body")
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return msg, fmt.Errorf("creating mail reader: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	if msg.Subject, err = h.Subject(); err != nil {
		msg.Subject = h.Get("Subject")
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	msg.Senders = headerContacts(h, "From")
	msg.ToReceivers = headerContacts(h, "To")
	msg.CcReceivers = headerContacts(h, "Cc")
	msg.ReplyTo = headerContacts(h, "Reply-To")

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("reading message part: %w", err)
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			msg.Attachments = append(msg.Attachments, model.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Content:     body,
			})
		}
	}

	if textBody == "" {
		textBody = stripHTML(htmlBody)
	}
	msg.VisibleText = VisibleText(textBody)
	return msg, nil
}

func headerContacts(h mail.Header, key string) []model.Contact {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	var out []model.Contact
	for _, a := range addrs {
		out = append(out, model.Contact{Address: a.Address, Name: a.Name})
	}
	return out
}

// quoteHeader matches the attribution line mail clients put above a
// quoted reply, e.g. "On Mon, 1 Jan 2024, Jane <j@x.com> wrote:".
var quoteHeader = regexp.MustCompile(`(?i)^\s*on\b.*\bwrote:\s*$`)

// VisibleText drops the quoted history a mail client appends to a
// reply: everything from the attribution line, or the first run of ">"
// lines reaching the end of the message.
func VisibleText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	cut := len(lines)
	for i, line := range lines {
		if quoteHeader.MatchString(line) {
			cut = i
			break
		}
		if strings.HasPrefix(strings.TrimSpace(line), ">") && onlyQuotesFollow(lines[i:]) {
			cut = i
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[:cut], "\n"))
}

func onlyQuotesFollow(lines []string) bool {
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, ">") {
			return false
		}
	}
	return true
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
