package zot

import "encoding/json"

// Packet types understood by the callback endpoint.
const (
	PacketPing   = "ping"
	PacketPickup = "pickup"
	PacketNotify = "notify"
	PacketBogus  = "bogus"
)

const (
	// MessageTypeActivity is the only message type delivered by default.
	MessageTypeActivity = "activity"

	// VerbPost marks a newly authored activity.
	VerbPost = "http://activitystrea.ms/schema/1.0/post"

	// WellKnownInfoPath is the discovery endpoint path on every site.
	WellKnownInfoPath = "/.well-known/zot-info"

	zeroDate     = "0000-00-00"
	zeroDateTime = "0000-00-00 00:00:00"
)

// InfoRequest carries the zot-info query parameters.
type InfoRequest struct {
	Address   string `json:"address,omitempty"`
	GUID      string `json:"guid,omitempty"`
	GUIDSig   string `json:"guid_sig,omitempty"`
	GUIDHash  string `json:"guid_hash,omitempty"`
	Target    string `json:"target,omitempty"`
	TargetSig string `json:"target_sig,omitempty"`
	Key       string `json:"key,omitempty"`
}

// InfoResponse is the zot-info reply. ChannelInfo is nil unless Success.
type InfoResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	*ChannelInfo
}

type ChannelInfo struct {
	GUID           string     `json:"guid"`
	GUIDSig        string     `json:"guid_sig"`
	Key            string     `json:"key"`
	Name           string     `json:"name"`
	NameUpdated    string     `json:"name_updated"`
	Address        string     `json:"address"`
	PhotoMimetype  string     `json:"photo_mimetype"`
	Photo          string     `json:"photo"`
	PhotoUpdated   string     `json:"photo_updated"`
	URL            string     `json:"url"`
	ConnectionsURL string     `json:"connections_url"`
	Target         string     `json:"target"`
	TargetSig      string     `json:"target_sig"`
	SpecialChannel bool       `json:"special_channel"`
	AdultChannel   bool       `json:"adult_channel"`
	Searchable     bool       `json:"searchable"`
	Profile        *Profile   `json:"profile,omitempty"`
	Locations      []Location `json:"locations"`
	Site           *SiteInfo  `json:"site,omitempty"`
}

// Profile is returned empty; profiles are not published.
type Profile struct {
	Description string            `json:"description"`
	Birthday    string            `json:"birthday"`
	Gender      string            `json:"gender"`
	Marital     string            `json:"marital"`
	Sexual      string            `json:"sexual"`
	Locale      string            `json:"locale"`
	Region      string            `json:"region"`
	Postcode    string            `json:"postcode"`
	Keywords    map[string]string `json:"keywords"`
}

// Location is one hub of a channel as advertised by zot-info.
type Location struct {
	Host     string `json:"host"`
	Address  string `json:"address"`
	Primary  bool   `json:"primary"`
	URL      string `json:"url"`
	URLSig   string `json:"url_sig"`
	Callback string `json:"callback"`
	SiteKey  string `json:"sitekey"`
}

type SiteInfo struct {
	URL            string `json:"url"`
	URLSig         string `json:"url_sig"`
	DirectoryMode  string `json:"directory_mode"`
	DirectoryURL   string `json:"directory_url"`
	RegisterPolicy string `json:"register_policy"`
	AccessPolicy   string `json:"access_policy"`
	Version        string `json:"version"`
	Admin          string `json:"admin"`
}

// Result is the minimal {success, message} reply.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// packetHeader is decoded first to pick a handler.
type packetHeader struct {
	Type string `json:"type"`
}

type PingRequest struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	GUID string `json:"guid,omitempty"`
}

type PingResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Site    *PingSite `json:"site,omitempty"`
}

type PingSite struct {
	URL     string `json:"url"`
	URLSig  string `json:"url_sig"`
	SiteKey string `json:"sitekey"`
}

// PickupRequest asks a hub for the messages queued under Secret.
type PickupRequest struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	Callback    string `json:"callback"`
	CallbackSig string `json:"callback_sig"`
	Secret      string `json:"secret"`
	SecretSig   string `json:"secret_sig"`
}

type PickupResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Pickup  []PickupItem `json:"pickup,omitempty"`
}

type PickupItem struct {
	Notify  *Notify  `json:"notify"`
	Message *Message `json:"message"`
}

// Notify tells a hub that messages are waiting under Secret.
type Notify struct {
	Type       string      `json:"type"`
	Sender     *Sender     `json:"sender"`
	Recipients []Recipient `json:"recipients,omitempty"`
	Callback   string      `json:"callback,omitempty"`
	Secret     string      `json:"secret,omitempty"`
	SecretSig  string      `json:"secret_sig,omitempty"`
	Version    string      `json:"version,omitempty"`
}

// Sender identifies the posting channel and the hub it posts from.
type Sender struct {
	GUID    string `json:"guid"`
	GUIDSig string `json:"guid_sig"`
	URL     string `json:"url"`
	URLSig  string `json:"url_sig"`
}

// ChannelHash recomputes the hash the sender claims.
func (s *Sender) ChannelHash() string {
	return CreateChannelHash(s.GUID, s.GUIDSig)
}

type Recipient struct {
	GUID    string `json:"guid"`
	GUIDSig string `json:"guid_sig"`
}

type NotifyResponse struct {
	Success        bool             `json:"success"`
	Message        string           `json:"message,omitempty"`
	DeliveryReport []DeliveryReport `json:"delivery_report,omitempty"`
}

// DeliveryReport is encoded as [recipient_hash, action, display].
type DeliveryReport struct {
	RecipientHash string
	Action        string
	Recipient     string
}

func (r DeliveryReport) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{r.RecipientHash, r.Action, r.Recipient})
}

func (r *DeliveryReport) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	r.RecipientHash, r.Action, r.Recipient = parts[0], parts[1], parts[2]
	return nil
}
