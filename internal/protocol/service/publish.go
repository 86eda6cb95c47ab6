package service

import (
	"time"

	"github.com/danmuck/opcuactl/internal/protocol/codec"
)

type SubscriptionAcknowledgement struct {
	SubscriptionID uint32
	SequenceNumber uint32
}

func (a SubscriptionAcknowledgement) ByteLen() int { return 8 }

func (a SubscriptionAcknowledgement) EncodeTo(w *codec.Writer) {
	w.Uint32(a.SubscriptionID)
	w.Uint32(a.SequenceNumber)
}

func (a *SubscriptionAcknowledgement) DecodeFrom(r *codec.Reader) {
	a.SubscriptionID = r.Uint32()
	a.SequenceNumber = r.Uint32()
}

type PublishRequest struct {
	Header                       RequestHeader
	SubscriptionAcknowledgements []SubscriptionAcknowledgement
}

func (m *PublishRequest) EncodingID() uint32            { return IDPublishRequest }
func (m *PublishRequest) RequestHeader() *RequestHeader { return &m.Header }

func (m *PublishRequest) ByteLen() int {
	return m.Header.ByteLen() + codec.ArrayByteLen(m.SubscriptionAcknowledgements)
}

func (m *PublishRequest) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	codec.WriteArray(w, m.SubscriptionAcknowledgements)
}

func (m *PublishRequest) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.SubscriptionAcknowledgements = codec.ReadArray[SubscriptionAcknowledgement](r)
}

// NotificationMessage carries notification data as opaque extension objects.
type NotificationMessage struct {
	SequenceNumber   uint32
	PublishTime      time.Time
	NotificationData []codec.ExtensionObject
}

func (n NotificationMessage) ByteLen() int {
	return 4 + 8 + codec.ArrayByteLen(n.NotificationData)
}

func (n NotificationMessage) EncodeTo(w *codec.Writer) {
	w.Uint32(n.SequenceNumber)
	w.DateTime(n.PublishTime)
	codec.WriteArray(w, n.NotificationData)
}

func (n *NotificationMessage) DecodeFrom(r *codec.Reader) {
	n.SequenceNumber = r.Uint32()
	n.PublishTime = r.DateTime()
	n.NotificationData = codec.ReadArray[codec.ExtensionObject](r)
}

type PublishResponse struct {
	Header                   ResponseHeader
	SubscriptionID           uint32
	AvailableSequenceNumbers []uint32
	MoreNotifications        bool
	NotificationMessage      NotificationMessage
	Results                  []codec.StatusCode
	DiagnosticInfos          []codec.DiagnosticInfo
}

func (m *PublishResponse) EncodingID() uint32              { return IDPublishResponse }
func (m *PublishResponse) ResponseHeader() *ResponseHeader { return &m.Header }

func (m *PublishResponse) ByteLen() int {
	return m.Header.ByteLen() + 4 +
		codec.SliceByteLen(m.AvailableSequenceNumbers, codec.FixedSize[uint32](4)) +
		1 + m.NotificationMessage.ByteLen() +
		codec.ArrayByteLen(m.Results) + codec.ArrayByteLen(m.DiagnosticInfos)
}

func (m *PublishResponse) EncodeTo(w *codec.Writer) {
	m.Header.EncodeTo(w)
	w.Uint32(m.SubscriptionID)
	codec.WriteSlice(w, m.AvailableSequenceNumbers, (*codec.Writer).Uint32)
	w.Bool(m.MoreNotifications)
	m.NotificationMessage.EncodeTo(w)
	codec.WriteArray(w, m.Results)
	codec.WriteArray(w, m.DiagnosticInfos)
}

func (m *PublishResponse) DecodeFrom(r *codec.Reader) {
	m.Header.DecodeFrom(r)
	m.SubscriptionID = r.Uint32()
	m.AvailableSequenceNumbers = codec.ReadSlice(r, (*codec.Reader).Uint32)
	m.MoreNotifications = r.Bool()
	m.NotificationMessage.DecodeFrom(r)
	m.Results = codec.ReadArray[codec.StatusCode](r)
	m.DiagnosticInfos = codec.ReadArray[codec.DiagnosticInfo](r)
}
