package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salesreach/utils"
)

// ReplyWorker polls the sender inbox over IMAP and feeds detected replies to
// the status reconciler. A reply to any sequence email carries our
// Message-ID in its In-Reply-To or References header.
type ReplyWorker struct {
	DB         *gorm.DB
	Reconciler *utils.StatusReconciler
	Logger     *logrus.Logger

	Host     string
	Port     int
	Username string
	Password string
}

func NewReplyWorker(db *gorm.DB, reconciler *utils.StatusReconciler, logger *logrus.Logger, host string, port int, username, password string) *ReplyWorker {
	return &ReplyWorker{
		DB:         db,
		Reconciler: reconciler,
		Logger:     logger,
		Host:       host,
		Port:       port,
		Username:   username,
		Password:   password,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.Logger.Println("Starting reply worker...")
	ticker := time.NewTicker(5 * time.Minute)

	for {
		select {
		case <-ticker.C:
			if err := rw.fetchReplies(); err != nil {
				rw.Logger.Printf("Failed to fetch replies: %v", err)
			}
		case <-ctx.Done():
			rw.Logger.Println("Stopping reply worker...")
			ticker.Stop()
			return
		}
	}
}

// imapConn is the slice of the IMAP client the worker needs; *client.Client
// satisfies it.
type imapConn interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Store(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
}

func (rw *ReplyWorker) fetchReplies() error {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", rw.Host, rw.Port), nil)
	if err != nil {
		return fmt.Errorf("imap dial failed: %w", err)
	}
	defer c.Logout()

	if err := c.Login(rw.Username, rw.Password); err != nil {
		return fmt.Errorf("imap login failed: %w", err)
	}

	return rw.processMailbox(c)
}

func (rw *ReplyWorker) processMailbox(c imapConn) error {
	mbox, err := c.Select("INBOX", false)
	if err != nil {
		return fmt.Errorf("imap select failed: %w", err)
	}
	if mbox.Messages == 0 {
		return nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("imap search failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	handled := new(imap.SeqSet)
	for msg := range messages {
		if err := rw.handleMessage(msg, section); err != nil {
			rw.Logger.Printf("Failed to process inbound message: %v", err)
			continue
		}
		handled.AddNum(msg.SeqNum)
	}

	if err := <-done; err != nil {
		return err
	}

	// Mark handled mail seen so the next cycle does not rescan it. Failed
	// messages stay unseen and are retried.
	if !handled.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.SeenFlag}
		if err := c.Store(handled, item, flags, nil); err != nil {
			return fmt.Errorf("imap store failed: %w", err)
		}
	}
	return nil
}

func (rw *ReplyWorker) handleMessage(msg *imap.Message, section *imap.BodySectionName) error {
	receivedAt := time.Now()
	if msg.Envelope != nil && !msg.Envelope.Date.IsZero() {
		receivedAt = msg.Envelope.Date
	}

	for _, ref := range rw.referencedMessageIDs(msg, section) {
		applied, err := rw.Reconciler.ApplyEvent("reply", ref, receivedAt)
		if err == gorm.ErrRecordNotFound {
			continue // not one of ours
		}
		if err != nil {
			return err
		}
		if applied {
			rw.Logger.Printf("Reply detected for message %s", ref)
		}
		return nil
	}
	return nil
}

// referencedMessageIDs collects every message id the inbound mail claims to
// be replying to: the envelope's In-Reply-To plus the References header.
func (rw *ReplyWorker) referencedMessageIDs(msg *imap.Message, section *imap.BodySectionName) []string {
	var refs []string
	if msg.Envelope != nil && msg.Envelope.InReplyTo != "" {
		refs = append(refs, strings.TrimSpace(msg.Envelope.InReplyTo))
	}

	body := msg.GetBody(section)
	if body == nil {
		return refs
	}
	reader, err := mail.CreateReader(body)
	if err != nil {
		return refs
	}
	if references := reader.Header.Get("References"); references != "" {
		for _, ref := range strings.Fields(references) {
			refs = append(refs, strings.TrimSpace(ref))
		}
	}
	return refs
}
