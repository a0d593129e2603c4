package mail

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
	"github.com/nhle/mail2issue/internal/model"
)

// IMAPClient wraps go-imap v2 for querying one mailbox.
type IMAPClient struct {
	server   ServerConfig
	username string
	password string
	mailbox  string
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(server ServerConfig, username, password, mailbox string) *IMAPClient {
	return &IMAPClient{
		server:   server,
		username: username,
		password: password,
		mailbox:  mailbox,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := c.server.Host + ":" + c.server.Port

	var client *imapclient.Client
	var err error

	if c.server.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &gateway.AuthError{
			System: gateway.SystemMail,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// selection picks which of the matched UIDs to fetch.
type selection int

const (
	// oldestFirst keeps the lowest UIDs so a capped fetch never skips
	// past unfetched mail.
	oldestFirst selection = iota

	// newestFirst keeps the highest UIDs.
	newestFirst
)

// search runs a UID SEARCH and fetches at most limit of the matches.
// Only UIDs above minUID are kept.
func (c *IMAPClient) search(
	ctx context.Context,
	criteria *imap.SearchCriteria,
	minUID uint32,
	limit int,
	sel selection,
) ([]model.InboundMessage, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(c.mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := selectUIDs(searchData.AllUIDs(), minUID, limit, sel)
	if len(uids) == 0 {
		return []model.InboundMessage{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.fetch(client, uids)
}

// selectUIDs filters, orders and caps matched UIDs. "n:*" always
// matches the newest message even when n is beyond it, so the minUID
// filter is applied here rather than trusted to the server.
func selectUIDs(all []imap.UID, minUID uint32, limit int, sel selection) []imap.UID {
	uids := make([]imap.UID, 0, len(all))
	for _, uid := range all {
		if uint32(uid) > minUID {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	if limit > 0 && len(uids) > limit {
		if sel == newestFirst {
			uids = uids[len(uids)-limit:]
		} else {
			uids = uids[:limit]
		}
	}
	return uids
}

// fetch downloads full messages for uids and parses them.
func (c *IMAPClient) fetch(client *imapclient.Client, uids []imap.UID) ([]model.InboundMessage, error) {
	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)
	defer fetchCmd.Close()

	log := logging.Log.WithField("component", "imap")
	messages := make([]model.InboundMessage, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			log.WithError(err).Warn("Skipping message that could not be collected")
			continue
		}

		raw := buf.FindBodySection(bodySection)
		parsed, err := ParseMessage(uint32(buf.UID), raw)
		if err != nil {
			log.WithError(err).WithField("uid", buf.UID).Warn("Falling back to envelope")
			parsed = messageFromEnvelope(buf)
		}
		messages = append(messages, parsed)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	log.WithFields(logrus.Fields{"count": len(messages)}).Debug("Fetched messages")
	return messages, nil
}

// FetchSince returns messages with a UID greater than sinceUID,
// oldest first.
func (c *IMAPClient) FetchSince(ctx context.Context, sinceUID uint32, limit int) ([]model.InboundMessage, error) {
	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(sinceUID + 1)}}},
	}
	return c.search(ctx, criteria, sinceUID, limit, oldestFirst)
}

// FetchAfter returns the newest messages received since the given time.
func (c *IMAPClient) FetchAfter(ctx context.Context, since time.Time, limit int) ([]model.InboundMessage, error) {
	criteria := &imap.SearchCriteria{
		Since: since,
	}
	return c.search(ctx, criteria, 0, limit, newestFirst)
}

// messageFromEnvelope builds a message from envelope data alone.
func messageFromEnvelope(buf *imapclient.FetchMessageBuffer) model.InboundMessage {
	msg := model.InboundMessage{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		msg.Date = buf.Envelope.Date
		msg.Senders = envelopeContacts(buf.Envelope.From)
		msg.ToReceivers = envelopeContacts(buf.Envelope.To)
		msg.CcReceivers = envelopeContacts(buf.Envelope.Cc)
		msg.ReplyTo = envelopeContacts(buf.Envelope.ReplyTo)
	}

	return msg
}

func envelopeContacts(addrs []imap.Address) []model.Contact {
	var out []model.Contact
	for _, a := range addrs {
		if a.Addr() == "" {
			continue
		}
		out = append(out, model.Contact{Address: a.Addr(), Name: a.Name})
	}
	return out
}
