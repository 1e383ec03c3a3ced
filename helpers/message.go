package helpers

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
)

// NormalizedMessage is the inbound contract of the routing pipeline: the
// fields every transport (LMTP, dry-run CLI) must produce before a message
// enters resolution.
type NormalizedMessage struct {
	Sender     string // envelope or From header address
	Recipient  string // envelope or first To header address
	Subject    string
	Body       string // plaintext body, HTML converted if necessary
	ReceivedAt time.Time
}

// NormalizeMessage parses a raw RFC822 message and extracts the fields the
// routing pipeline needs. Envelope sender/recipient, when known by the
// transport, take precedence over header values; pass them empty to fall
// back to the From/To headers. Parse failures of individual parts degrade
// to an empty body rather than failing the message: an unparseable body
// still has a sender domain and a subject to route on.
func NormalizeMessage(raw []byte, envelopeFrom, envelopeTo string, receivedAt time.Time) (NormalizedMessage, error) {
	norm := NormalizedMessage{
		Sender:     strings.TrimSpace(envelopeFrom),
		Recipient:  strings.TrimSpace(envelopeTo),
		ReceivedAt: receivedAt,
	}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return norm, err
	}

	norm.Subject = strings.TrimSpace(entity.Header.Get("Subject"))

	if norm.Sender == "" {
		norm.Sender = firstAddress(entity.Header.Get("From"))
	}
	if norm.Recipient == "" {
		norm.Recipient = firstAddress(entity.Header.Get("To"))
	}
	if norm.ReceivedAt.IsZero() {
		mh := mail.Header{Header: entity.Header}
		// Date() reports (zero, nil) when the header is absent.
		if t, err := mh.Date(); err == nil && !t.IsZero() {
			norm.ReceivedAt = t
		} else {
			norm.ReceivedAt = time.Now()
		}
	}

	norm.Body = ExtractTextBody(entity)
	return norm, nil
}

// firstAddress pulls the first address out of a From/To header value,
// stripping any display name.
func firstAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if comma := strings.Index(header, ","); comma >= 0 {
		header = header[:comma]
	}
	if open := strings.LastIndex(header, "<"); open >= 0 {
		if close := strings.LastIndex(header, ">"); close > open {
			return strings.TrimSpace(header[open+1 : close])
		}
	}
	return strings.TrimSpace(header)
}

// ExtractTextBody walks the MIME structure and returns the best plaintext
// rendition of the message body: the first text/plain part if present,
// otherwise the first text/html part converted with html2text, otherwise "".
func ExtractTextBody(entity *message.Entity) string {
	var plainBody, htmlBody string
	collectTextParts(entity, &plainBody, &htmlBody)

	if plainBody != "" {
		return plainBody
	}
	if htmlBody != "" {
		return html2text.HTML2Text(htmlBody)
	}
	return ""
}

func collectTextParts(entity *message.Entity, plainBody, htmlBody *string) {
	mediaType, _, _ := entity.Header.ContentType()

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err != nil {
				return
			}
			collectTextParts(part, plainBody, htmlBody)
			if *plainBody != "" {
				return
			}
		}
	}

	switch {
	case mediaType == "text/plain" || mediaType == "":
		if *plainBody == "" {
			if b, err := io.ReadAll(entity.Body); err == nil {
				*plainBody = strings.TrimSpace(string(b))
			}
		}
	case mediaType == "text/html":
		if *htmlBody == "" {
			if b, err := io.ReadAll(entity.Body); err == nil {
				*htmlBody = strings.TrimSpace(string(b))
			}
		}
	}
}
