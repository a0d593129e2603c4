package mail

// ServerConfig holds connection settings for one mail protocol.
type ServerConfig struct {
	Host string
	Port string

	// TLS selects implicit TLS. When false the connection is upgraded
	// with STARTTLS.
	TLS bool
}

// Config holds the mailbox settings.
type Config struct {
	// Address is the mailbox's own address. It is the From of outgoing
	// mail and is excluded from reply recipients.
	Address  string
	Username string
	Password string

	// Mailbox is the IMAP folder to read. Defaults to INBOX.
	Mailbox string

	IMAP ServerConfig
	SMTP ServerConfig
}

// withDefaults fills unset fields: IMAP on 993 with TLS, SMTP on the
// IMAP host at 465 with TLS, and the address as username.
func (c Config) withDefaults() Config {
	if c.Mailbox == "" {
		c.Mailbox = "INBOX"
	}
	if c.Username == "" {
		c.Username = c.Address
	}
	if c.IMAP.Port == "" {
		c.IMAP.Port = "993"
		c.IMAP.TLS = true
	}
	if c.SMTP.Host == "" {
		c.SMTP.Host = c.IMAP.Host
	}
	if c.SMTP.Port == "" {
		c.SMTP.Port = "465"
		c.SMTP.TLS = true
	}
	return c
}
