package popularity

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/majestrate/swarmwatch/lib/common"
)

// MessageType is the first byte of every community datagram
type MessageType byte

const (
	Subscribe           = MessageType(1)
	Subscription        = MessageType(2)
	TorrentHealth       = MessageType(3)
	TorrentsHealth      = MessageType(4)
	ChannelHealth       = MessageType(5)
	TorrentInfoRequest  = MessageType(6)
	TorrentInfoResponse = MessageType(7)
	ContentInfoRequest  = MessageType(8)
	ContentInfoResponse = MessageType(9)
	Invalid             = MessageType(255)
)

// content types of a CONTENT_INFO request
const (
	ContentTorrents = byte(1)
	ContentChannels = byte(2)
)

var ErrShortMessage = errors.New("short message")
var ErrTrailingBytes = errors.New("trailing bytes in message")
var ErrStringTooLong = errors.New("string too long")

func (t MessageType) Byte() byte {
	return byte(t)
}

func (t MessageType) String() string {
	switch t {
	case Subscribe:
		return "SUBSCRIBE"
	case Subscription:
		return "SUBSCRIPTION"
	case TorrentHealth:
		return "TORRENT_HEALTH"
	case TorrentsHealth:
		return "TORRENTS_HEALTH"
	case ChannelHealth:
		return "CHANNEL_HEALTH"
	case TorrentInfoRequest:
		return "TORRENT_INFO_REQUEST"
	case TorrentInfoResponse:
		return "TORRENT_INFO_RESPONSE"
	case ContentInfoRequest:
		return "CONTENT_INFO_REQUEST"
	case ContentInfoResponse:
		return "CONTENT_INFO_RESPONSE"
	case Invalid:
		return "INVALID"
	default:
		return fmt.Sprintf("??? (%d)", uint8(t))
	}
}

// Message is one serialized community datagram
type Message []byte

// NewMessage creates a message with id and many byteslices for the body
func NewMessage(id MessageType, bodyParts ...[]byte) (msg Message) {
	l := 1
	for idx := range bodyParts {
		l += len(bodyParts[idx])
	}
	msg = make(Message, l)
	msg[0] = id.Byte()
	i := 1
	for idx := range bodyParts {
		copy(msg[i:], bodyParts[idx])
		i += len(bodyParts[idx])
	}
	return
}

// MessageID returns the id of this message
func (msg Message) MessageID() MessageType {
	if len(msg) > 0 {
		return MessageType(msg[0])
	}
	return Invalid
}

// Payload returns the body of this message
func (msg Message) Payload() []byte {
	if len(msg) > 1 {
		return msg[1:]
	}
	return nil
}

// encoder appends big endian fields
type encoder []byte

func (e *encoder) u8(v byte) {
	*e = append(*e, v)
}

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u16(v uint16) {
	*e = binary.BigEndian.AppendUint16(*e, v)
}

func (e *encoder) u32(v uint32) {
	*e = binary.BigEndian.AppendUint32(*e, v)
}

func (e *encoder) u64(v uint64) {
	*e = binary.BigEndian.AppendUint64(*e, v)
}

func (e *encoder) raw(b []byte) {
	*e = append(*e, b...)
}

// str writes a uint16 length prefixed string, truncated if needed
func (e *encoder) str(b []byte) {
	if len(b) > 0xffff {
		b = b[:0xffff]
	}
	e.u16(uint16(len(b)))
	e.raw(b)
}

// decoder reads big endian fields, the first error sticks
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.data) < n {
		d.err = ErrShortMessage
		return nil
	}
	b := d.data[:n]
	d.data = d.data[n:]
	return b
}

func (d *decoder) u8() byte {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) boolean() bool {
	return d.u8() != 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) infohash() (ih common.Infohash) {
	if b := d.take(common.InfohashLen); b != nil {
		copy(ih[:], b)
	}
	return
}

func (d *decoder) str() []byte {
	n := d.u16()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// finish fails if bytes are left over
func (d *decoder) finish() error {
	if d.err == nil && len(d.data) > 0 {
		d.err = ErrTrailingBytes
	}
	return d.err
}

// SubscribeMsg asks a peer to publish to us or to stop
type SubscribeMsg struct {
	Identifier uint32
	Subscribe  bool
}

func (m SubscribeMsg) Encode() Message {
	var e encoder
	e.u32(m.Identifier)
	e.boolean(m.Subscribe)
	return NewMessage(Subscribe, e)
}

func DecodeSubscribe(payload []byte) (m SubscribeMsg, err error) {
	d := decoder{data: payload}
	m.Identifier = d.u32()
	m.Subscribe = d.boolean()
	err = d.finish()
	return
}

// SubscriptionMsg answers a SubscribeMsg
type SubscriptionMsg struct {
	Identifier uint32
	Subscribed bool
}

func (m SubscriptionMsg) Encode() Message {
	var e encoder
	e.u32(m.Identifier)
	e.boolean(m.Subscribed)
	return NewMessage(Subscription, e)
}

func DecodeSubscription(payload []byte) (m SubscriptionMsg, err error) {
	d := decoder{data: payload}
	m.Identifier = d.u32()
	m.Subscribed = d.boolean()
	err = d.finish()
	return
}

// HealthRecord is the swarm size of one torrent at a point in time
type HealthRecord struct {
	Infohash  common.Infohash
	Seeders   uint32
	Leechers  uint32
	Timestamp uint64
}

// encoded size of a HealthRecord
const healthRecordSize = common.InfohashLen + 4 + 4 + 8

func (r HealthRecord) put(e *encoder) {
	e.raw(r.Infohash[:])
	e.u32(r.Seeders)
	e.u32(r.Leechers)
	e.u64(r.Timestamp)
}

func (d *decoder) health() (r HealthRecord) {
	r.Infohash = d.infohash()
	r.Seeders = d.u32()
	r.Leechers = d.u32()
	r.Timestamp = d.u64()
	return
}

func (r HealthRecord) Encode() Message {
	var e encoder
	r.put(&e)
	return NewMessage(TorrentHealth, e)
}

func DecodeTorrentHealth(payload []byte) (r HealthRecord, err error) {
	d := decoder{data: payload}
	r = d.health()
	err = d.finish()
	return
}

// TorrentsHealthMsg carries a random sample and a popular sample
type TorrentsHealthMsg struct {
	Random  []HealthRecord
	Popular []HealthRecord
}

func (m TorrentsHealthMsg) Encode() Message {
	var e encoder
	e.u16(uint16(len(m.Random)))
	for _, r := range m.Random {
		r.put(&e)
	}
	e.u16(uint16(len(m.Popular)))
	for _, r := range m.Popular {
		r.put(&e)
	}
	return NewMessage(TorrentsHealth, e)
}

func (d *decoder) healthList() (l []HealthRecord) {
	n := int(d.u16())
	if d.err == nil && n*healthRecordSize > len(d.data) {
		d.err = ErrShortMessage
		return nil
	}
	for i := 0; i < n && d.err == nil; i++ {
		l = append(l, d.health())
	}
	return
}

func DecodeTorrentsHealth(payload []byte) (m TorrentsHealthMsg, err error) {
	d := decoder{data: payload}
	m.Random = d.healthList()
	m.Popular = d.healthList()
	err = d.finish()
	return
}

// ChannelHealthMsg is the aggregated health of one channel
type ChannelHealthMsg struct {
	ChannelID []byte
	Name      string
	Votes     uint32
	Torrents  uint32
	SwarmSize uint64
	Timestamp uint64
}

func (m ChannelHealthMsg) Encode() Message {
	var e encoder
	e.str(m.ChannelID)
	e.str([]byte(m.Name))
	e.u32(m.Votes)
	e.u32(m.Torrents)
	e.u64(m.SwarmSize)
	e.u64(m.Timestamp)
	return NewMessage(ChannelHealth, e)
}

func DecodeChannelHealth(payload []byte) (m ChannelHealthMsg, err error) {
	d := decoder{data: payload}
	m.ChannelID = d.str()
	m.Name = string(d.str())
	m.Votes = d.u32()
	m.Torrents = d.u32()
	m.SwarmSize = d.u64()
	m.Timestamp = d.u64()
	err = d.finish()
	if err == nil && len(m.ChannelID) == 0 {
		err = ErrShortMessage
	}
	return
}

// TorrentInfoRequestMsg asks for the descriptive info of a torrent
type TorrentInfoRequestMsg struct {
	Infohash common.Infohash
}

func (m TorrentInfoRequestMsg) Encode() Message {
	return NewMessage(TorrentInfoRequest, m.Infohash[:])
}

func DecodeTorrentInfoRequest(payload []byte) (m TorrentInfoRequestMsg, err error) {
	d := decoder{data: payload}
	m.Infohash = d.infohash()
	err = d.finish()
	return
}

// TorrentInfoResponseMsg carries torrent info without pieces
type TorrentInfoResponseMsg struct {
	Infohash     common.Infohash
	Name         string
	Length       uint64
	CreationDate uint64
	NumFiles     uint32
	Comment      string
}

func (m TorrentInfoResponseMsg) Encode() Message {
	var e encoder
	e.raw(m.Infohash[:])
	e.str([]byte(m.Name))
	e.u64(m.Length)
	e.u64(m.CreationDate)
	e.u32(m.NumFiles)
	e.str([]byte(m.Comment))
	return NewMessage(TorrentInfoResponse, e)
}

func DecodeTorrentInfoResponse(payload []byte) (m TorrentInfoResponseMsg, err error) {
	d := decoder{data: payload}
	m.Infohash = d.infohash()
	m.Name = string(d.str())
	m.Length = d.u64()
	m.CreationDate = d.u64()
	m.NumFiles = d.u32()
	m.Comment = string(d.str())
	err = d.finish()
	return
}

// ContentInfoRequestMsg is a keyword search
type ContentInfoRequestMsg struct {
	Identifier  uint32
	ContentType byte
	Query       string
}

func (m ContentInfoRequestMsg) Encode() Message {
	var e encoder
	e.u32(m.Identifier)
	e.u8(m.ContentType)
	e.str([]byte(m.Query))
	return NewMessage(ContentInfoRequest, e)
}

func DecodeContentInfoRequest(payload []byte) (m ContentInfoRequestMsg, err error) {
	d := decoder{data: payload}
	m.Identifier = d.u32()
	m.ContentType = d.u8()
	m.Query = string(d.str())
	err = d.finish()
	return
}

// ContentInfoResponseMsg is one page of search results
type ContentInfoResponseMsg struct {
	Identifier  uint32
	ContentType byte
	// bencoded list of result dicts
	Results    []byte
	Page       uint16
	PageSize   uint16
	MaxResults uint16
	More       bool
}

// fixed bytes of a ContentInfoResponseMsg around the results
const contentInfoResponseOverhead = 1 + 4 + 1 + 2 + 2 + 2 + 2 + 1

func (m ContentInfoResponseMsg) Encode() Message {
	var e encoder
	e.u32(m.Identifier)
	e.u8(m.ContentType)
	e.str(m.Results)
	e.u16(m.Page)
	e.u16(m.PageSize)
	e.u16(m.MaxResults)
	e.boolean(m.More)
	return NewMessage(ContentInfoResponse, e)
}

func DecodeContentInfoResponse(payload []byte) (m ContentInfoResponseMsg, err error) {
	d := decoder{data: payload}
	m.Identifier = d.u32()
	m.ContentType = d.u8()
	m.Results = d.str()
	m.Page = d.u16()
	m.PageSize = d.u16()
	m.MaxResults = d.u16()
	m.More = d.boolean()
	err = d.finish()
	return
}
