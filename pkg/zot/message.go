package zot

import (
	"github.com/sprezz-net/sprezz/pkg/types"
)

// ChannelRef identifies the author or owner of a message.
type ChannelRef struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	URL     string `json:"url"`
	GUID    string `json:"guid"`
	GUIDSig string `json:"guid_sig"`
}

// Hash recomputes the channel hash of the referenced channel.
func (r *ChannelRef) Hash() string {
	if r == nil {
		return ""
	}
	return CreateChannelHash(r.GUID, r.GUIDSig)
}

// Message is the envelope exchanged between hubs.
type Message struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id,omitempty"`
	Verb      string          `json:"verb,omitempty"`
	Author    *ChannelRef     `json:"author,omitempty"`
	Owner     *ChannelRef     `json:"owner,omitempty"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Mimetype  string          `json:"mimetype,omitempty"`
	Flags     map[string]bool `json:"flags,omitempty"`
}

// NewActivity builds a post authored and owned by x.
func NewActivity(x *types.XChannel, title, body, mimetype string) *Message {
	if mimetype == "" {
		mimetype = types.DefaultMimetype
	}
	return &Message{
		Type:     MessageTypeActivity,
		Verb:     VerbPost,
		Author:   channelRef(x),
		Owner:    channelRef(x),
		Title:    title,
		Body:     body,
		Mimetype: mimetype,
	}
}

func channelRef(x *types.XChannel) *ChannelRef {
	return &ChannelRef{
		Name:    x.Name,
		Address: x.Address,
		URL:     x.URL,
		GUID:    x.GUID,
		GUIDSig: x.Signature,
	}
}

func (m *Message) AuthorHash() string { return m.Author.Hash() }

func (m *Message) OwnerHash() string { return m.Owner.Hash() }

// CheckSender reports whether sender is the author or the owner of m.
func (m *Message) CheckSender(sender *types.XChannel) bool {
	if sender == nil || sender.ChannelHash == "" {
		return false
	}
	return sender.ChannelHash == m.AuthorHash() || sender.ChannelHash == m.OwnerHash()
}

func (m *Message) mimetype() string {
	if m.Mimetype == "" {
		return types.DefaultMimetype
	}
	return m.Mimetype
}

// item converts m into its stored form.
func (m *Message) item() *types.Item {
	return &types.Item{
		MessageID:  m.MessageID,
		Title:      m.Title,
		Body:       m.Body,
		Mimetype:   m.mimetype(),
		AuthorHash: m.AuthorHash(),
		OwnerHash:  m.OwnerHash(),
	}
}
